package parted

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mgarrido/reluks/internal/runner"
)

var (
	// ErrNoPartitions marks a disk whose table holds no partitions.
	ErrNoPartitions = errors.New("no partitions on disk")

	// ErrGeometryNotFound marks a partition absent from the geometry listing.
	ErrGeometryNotFound = errors.New("partition geometry not found")
)

// Info describes one disk's partition table as reported by parted.
type Info struct {
	Scheme        string // e.g. "gpt", "msdos"
	LastPartition int    // highest partition number on the disk
}

// listing runs parted's machine-readable listing in MiB units, including free
// space. Output is line-oriented with ':'-delimited fields: the header line
// is prefixed by the disk path, partition lines by the partition number.
func listing(r runner.Runner, disk string) ([]string, error) {
	out, err := r.Output("parted", "-m", disk, "unit", "MiB", "print", "free")
	if err != nil {
		return nil, fmt.Errorf("parted print %s: %w", disk, err)
	}
	return strings.Split(out, "\n"), nil
}

// TableInfo reports the partitioning scheme and the highest-numbered
// partition for disk. When the disk has no partitions the scheme is still
// populated and the error is ErrNoPartitions.
func TableInfo(r runner.Runner, disk string) (Info, error) {
	lines, err := listing(r, disk)
	if err != nil {
		return Info{}, err
	}

	info := Info{Scheme: "unknown"}
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, disk) {
			// e.g. /dev/sda:20480MiB:scsi:512:512:gpt:...
			fields := strings.Split(line, ":")
			if len(fields) >= 6 {
				info.Scheme = fields[5]
			}
			continue
		}
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		fields := strings.Split(strings.TrimSuffix(line, ";"), ":")
		if isFreeRow(fields) {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		found = true
		if num > info.LastPartition {
			info.LastPartition = num
		}
	}
	if !found {
		return info, fmt.Errorf("%s: %w", disk, ErrNoPartitions)
	}
	return info, nil
}

// PartitionEndMiB returns the end offset, in MiB, of the numbered partition
// on disk. Repeated calls against unchanged table state return the same
// offset; nothing is cached across mutations.
func PartitionEndMiB(r runner.Runner, disk string, num int) (float64, error) {
	lines, err := listing(r, disk)
	if err != nil {
		return 0, err
	}

	want := strconv.Itoa(num)
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "BYT;") || strings.HasPrefix(line, disk) {
			continue
		}
		// fields: nr:start:end:size:fs:name:flags
		fields := strings.Split(strings.TrimSuffix(line, ";"), ":")
		if len(fields) < 3 || fields[0] != want || isFreeRow(fields) {
			continue
		}
		end := fields[2]
		if !strings.HasSuffix(end, "MiB") {
			continue
		}
		return strconv.ParseFloat(strings.TrimSuffix(end, "MiB"), 64)
	}
	return 0, fmt.Errorf("%s partition %d: %w", disk, num, ErrGeometryNotFound)
}

// isFreeRow detects free-space rows: parted numbers them like partitions,
// but their filesystem field reads "free".
func isFreeRow(fields []string) bool {
	return len(fields) >= 5 && fields[4] == "free"
}

// Package shrink frees trailing space on a disk by shrinking its last
// partition down to the minimum footprint of the filesystem it carries.
// Only the ext2/3/4 family is supported.
package shrink

import (
	"fmt"
	"strconv"

	"github.com/mgarrido/reluks/internal/blockdev"
	"github.com/mgarrido/reluks/internal/parted"
	"github.com/mgarrido/reluks/internal/runner"
)

// TrailingSpace tries to free roughly reservedTailMiB at the end of disk by
// shrinking the given partition. mountpoint is where the partition is
// currently mounted, or empty. The operation is best-effort: every failure
// is logged to sink and collapsed into a false return, leaving the caller to
// decide whether missing space is fatal.
//
// Hard preconditions, checked in order before any mutation of the table:
// the partition must not be the live system root, its filesystem must check
// clean, and it must be the disk's last partition.
func TrailingSpace(r runner.Runner, sink runner.Sink, partPath, mountpoint, disk string, reservedTailMiB float64) bool {
	sink(fmt.Sprintf("trying to free ~%.0fMiB by shrinking %s", reservedTailMiB, partPath))

	if mountpoint == "/" {
		sink("[ERROR] target partition is mounted as '/'; run from a live/rescue environment to shrink it")
		return false
	}

	remountAt := ""
	if mountpoint != "" {
		sink(fmt.Sprintf("unmounting %s from %s", partPath, mountpoint))
		if err := r.Stream(sink, "umount", partPath); err != nil {
			sink(fmt.Sprintf("[ERROR] unmount failed: %v", err))
			return false
		}
		remountAt = mountpoint
	}

	// An unclean filesystem must not be resized.
	if err := r.Stream(sink, "e2fsck", "-f", "-y", partPath); err != nil {
		sink(fmt.Sprintf("[ERROR] filesystem check failed: %v", err))
		return false
	}
	if err := r.Stream(sink, "resize2fs", "-M", partPath); err != nil {
		sink(fmt.Sprintf("[ERROR] filesystem shrink failed: %v", err))
		return false
	}

	num, err := blockdev.PartitionNumber(partPath)
	if err != nil {
		sink(fmt.Sprintf("[ERROR] cannot determine partition number of %s: %v", partPath, err))
		return false
	}

	info, err := parted.TableInfo(r, disk)
	if err != nil {
		sink(fmt.Sprintf("[ERROR] cannot read partition table of %s: %v", disk, err))
		return false
	}
	if num != info.LastPartition {
		sink(fmt.Sprintf("[ERROR] partition %d is not the last on %s (last: %d); shrinking it cannot free trailing space", num, disk, info.LastPartition))
		return false
	}

	end, err := parted.PartitionEndMiB(r, disk, num)
	if err != nil {
		sink(fmt.Sprintf("[ERROR] cannot determine end of partition %d: %v", num, err))
		return false
	}
	newEnd := end - reservedTailMiB
	if newEnd < 1 {
		newEnd = 1
	}

	if err := r.Stream(sink, "parted", disk, "--script", "unit", "MiB",
		"resizepart", strconv.Itoa(num), strconv.Itoa(int(newEnd))+"MiB"); err != nil {
		sink(fmt.Sprintf("[ERROR] partition resize failed: %v", err))
		return false
	}
	r.TryStream(sink, "partprobe", disk)
	r.TryStream(sink, "udevadm", "settle")

	if remountAt != "" {
		sink(fmt.Sprintf("remounting %s at %s", partPath, remountAt))
		r.TryStream(sink, "mkdir", "-p", remountAt)
		r.TryStream(sink, "mount", partPath, remountAt)
	}
	return true
}

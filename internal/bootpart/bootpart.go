// Package bootpart carves a dedicated /boot partition out of the tail of a
// disk, populating it from the running system's /boot and registering it in
// /etc/fstab. The whole procedure is best-effort: callers report its errors
// as warnings and carry on, since a missing /boot partition must not abort
// the reencryption flow.
package bootpart

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mgarrido/reluks/internal/blockdev"
	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/parted"
	"github.com/mgarrido/reluks/internal/runner"
	"github.com/mgarrido/reluks/internal/shrink"
)

// ErrNewPartitionNotDetected marks a creation attempt after which no new
// partition path showed up in the inventory.
var ErrNewPartitionNotDetected = errors.New("newly created partition not detected")

// Ensure frees trailing space on targetDevice's disk (when the target is not
// itself a raw LUKS container), creates an ext4 partition of roughly
// ReservedTailMiB in that space, copies /boot into it and appends it to
// /etc/fstab.
func Ensure(r runner.Runner, sink runner.Sink, cfg *config.Config, targetDevice string) error {
	before := blockdev.List(r)
	sink(fmt.Sprintf("freeing ~%dMiB at the end of the disk and creating a /boot partition", cfg.ReservedTailMiB))

	baseDisk := blockdev.BaseDisk(targetDevice)

	isLUKS := false
	if dev := blockdev.Find(before, targetDevice); dev != nil {
		isLUKS = blockdev.IsLUKS(dev.FSType)
	}
	if isLUKS {
		sink("[INFO] selected device looks like a raw LUKS container; skipping automatic shrink, the filesystem lives inside the container")
	}

	// Prefer shrinking whatever is mounted at '/': that is normally the
	// partition with reclaimable free space, not necessarily the selected
	// target.
	shrinkTarget := targetDevice
	shrinkMountpoint := ""
	for _, p := range before {
		if p.Type == "part" && p.Mountpoint == "/" {
			shrinkTarget = p.Path
			shrinkMountpoint = "/"
			if shrinkTarget != targetDevice {
				sink(fmt.Sprintf("using %s as the root partition to free space (selected: %s)", shrinkTarget, targetDevice))
			}
			break
		}
	}
	if shrinkMountpoint == "" {
		if dev := blockdev.Find(before, targetDevice); dev != nil {
			shrinkMountpoint = dev.Mountpoint
		}
	}

	info, err := parted.TableInfo(r, baseDisk)
	if err != nil && !errors.Is(err, parted.ErrNoPartitions) {
		return fmt.Errorf("inspect %s: %w", baseDisk, err)
	}
	sink(fmt.Sprintf("partition table: %s, last partition: %d", info.Scheme, info.LastPartition))

	if !isLUKS {
		// Failure to reclaim space is not fatal here: partition creation
		// below simply fails if nothing was freed.
		shrink.TrailingSpace(r, sink, shrinkTarget, shrinkMountpoint, baseDisk, float64(cfg.ReservedTailMiB))
	}

	tail := fmt.Sprintf("-%dMiB", cfg.ReservedTailMiB)
	if err := r.Stream(sink, "parted", baseDisk, "--script", "mkpart", "primary", "ext4", tail, "-1MiB"); err != nil {
		if strings.EqualFold(info.Scheme, "msdos") {
			sink("[HINT] msdos tables allow only 4 primary partitions; use an extended partition or migrate to GPT")
		}
		if isLUKS {
			sink("[ERROR] cannot create /boot: no trailing space, and a raw LUKS partition cannot be shrunk without opening it and shrinking the inner filesystem")
		} else {
			sink("[ERROR] cannot create /boot: check that the target is the disk's last partition and that space could be freed")
		}
		return fmt.Errorf("create partition on %s: %w", baseDisk, err)
	}

	r.TryStream(sink, "partprobe", baseDisk)
	r.TryStream(sink, "udevadm", "settle")

	newBoot, err := detectNew(before, blockdev.List(r))
	if err != nil {
		sink("[ERROR] could not detect the newly created partition")
		return err
	}
	sink(fmt.Sprintf("new partition detected: %s", newBoot))

	if err := r.Stream(sink, "mkfs.ext4", "-L", cfg.BootLabel, newBoot); err != nil {
		return fmt.Errorf("format %s: %w", newBoot, err)
	}
	if err := r.Stream(sink, "mkdir", "-p", cfg.BootScratch); err != nil {
		return err
	}
	if err := r.Stream(sink, "mount", newBoot, cfg.BootScratch); err != nil {
		return fmt.Errorf("mount %s: %w", newBoot, err)
	}
	// cp -a with a /. source picks up hidden entries too
	if err := r.Stream(sink, "bash", "-c", "cp -a /boot/. "+cfg.BootScratch+"/"); err != nil {
		return fmt.Errorf("copy /boot: %w", err)
	}
	if err := r.Stream(sink, "umount", cfg.BootScratch); err != nil {
		return err
	}

	bootUUID, err := r.Output("blkid", "-s", "UUID", "-o", "value", newBoot)
	if err != nil {
		return fmt.Errorf("read UUID of %s: %w", newBoot, err)
	}
	if _, err := uuid.Parse(bootUUID); err != nil {
		return fmt.Errorf("blkid returned malformed UUID %q for %s: %w", bootUUID, newBoot, err)
	}
	entry := fmt.Sprintf("UUID=%s /boot ext4 defaults 0 2", bootUUID)
	if err := r.Stream(sink, "bash", "-c", "echo '"+entry+"' >> /etc/fstab"); err != nil {
		return fmt.Errorf("register /boot in fstab: %w", err)
	}

	sink("/boot partition created and configured (ext4)")
	return nil
}

// detectNew diffs two inventory snapshots and returns the lexicographically
// last path present only in after.
func detectNew(before, after []blockdev.Device) (string, error) {
	seen := make(map[string]bool, len(before))
	for _, d := range before {
		seen[d.Path] = true
	}
	var created []string
	for _, d := range after {
		if !seen[d.Path] {
			created = append(created, d.Path)
		}
	}
	if len(created) == 0 {
		return "", ErrNewPartitionNotDetected
	}
	sort.Strings(created)
	return created[len(created)-1], nil
}

package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mgarrido/reluks/internal/blockdev"
	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/runner"
)

// integrate opens the freshly encrypted container, mounts the system found
// inside it together with its boot/EFI partitions, and reconfigures it to
// boot from the encrypted root: crypttab, fstab, initramfs, kernel command
// line and bootloader. Auxiliary mounts are best-effort; anything that would
// leave the system unbootable when skipped is strict.
func integrate(r runner.Runner, sink runner.Sink, cfg *config.Config, device, keyfile string) error {
	devUUID, err := deviceUUID(r, device)
	if err != nil {
		return err
	}
	mapper := "/dev/mapper/" + cfg.MapperName

	if err := r.Stream(sink, "cryptsetup", "open", device, cfg.MapperName, "--key-file", keyfile); err != nil {
		return err
	}
	r.TryStream(sink, "e2fsck", "-f", mapper)
	r.TryStream(sink, "resize2fs", mapper)
	r.TryStream(sink, "mkdir", "-p", cfg.ScratchRoot)
	r.TryStream(sink, "mount", mapper, cfg.ScratchRoot)

	// Boot and EFI partitions are recognized by filesystem type: vfat/efi
	// mounts under boot/efi, the ext family under boot.
	bootUUID := ""
	for _, p := range blockdev.List(r) {
		if p.Type != "part" {
			continue
		}
		switch p.FSType {
		case "vfat", "efi":
			efiUUID, err := deviceUUID(r, p.Path)
			if err != nil {
				sink(fmt.Sprintf("[WARN] %v", err))
				continue
			}
			r.TryStream(sink, "mkdir", "-p", cfg.ScratchRoot+"/boot/efi")
			r.TryStream(sink, "mount", "UUID="+efiUUID, cfg.ScratchRoot+"/boot/efi")
		case "ext2", "ext3", "ext4":
			u, err := deviceUUID(r, p.Path)
			if err != nil {
				sink(fmt.Sprintf("[WARN] %v", err))
				continue
			}
			bootUUID = u
			r.TryStream(sink, "mkdir", "-p", cfg.ScratchRoot+"/boot")
			r.TryStream(sink, "mount", "UUID="+bootUUID, cfg.ScratchRoot+"/boot")
		}
	}

	for _, dir := range []string{"/dev", "/proc", "/sys", "/run"} {
		r.TryStream(sink, "mount", "--bind", dir, cfg.ScratchRoot+dir)
	}

	crypttab := fmt.Sprintf("echo '%s UUID=%s none luks' > /etc/crypttab", cfg.MapperName, devUUID)
	r.TryStream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", crypttab)
	fstab := fmt.Sprintf("echo '%s / ext4 defaults 0 1' > /etc/fstab", mapper)
	r.TryStream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", fstab)
	if bootUUID != "" {
		bootEntry := fmt.Sprintf("echo 'UUID=%s /boot ext4 defaults 0 2' >> /etc/fstab", bootUUID)
		r.TryStream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", bootEntry)
	}

	sink("-- regenerating initramfs (update-initramfs -u -k all) --")
	if err := r.Stream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", "update-initramfs -u -k all"); err != nil {
		return err
	}

	grubLine := fmt.Sprintf(`GRUB_CMDLINE_LINUX="cryptdevice=UUID=%s:%s root=%s"`, devUUID, cfg.MapperName, mapper)
	grubCmd := fmt.Sprintf(
		"grep -q '^GRUB_CMDLINE_LINUX' /etc/default/grub && sed -i 's|^GRUB_CMDLINE_LINUX.*|%s|' /etc/default/grub || echo '%s' >> /etc/default/grub",
		grubLine, grubLine,
	)
	if err := r.Stream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", grubCmd); err != nil {
		return err
	}

	baseDisk := blockdev.BaseDisk(device)
	if err := r.Stream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", "grub-install "+baseDisk); err != nil {
		return err
	}
	return r.Stream(sink, "chroot", cfg.ScratchRoot, "/bin/bash", "-c", "update-grub")
}

// deviceUUID reads a device's filesystem UUID via blkid and validates it
// before it gets written into crypttab or fstab.
func deviceUUID(r runner.Runner, device string) (string, error) {
	out, err := r.Output("blkid", "-s", "UUID", "-o", "value", device)
	if err != nil {
		return "", fmt.Errorf("read UUID of %s: %w", device, err)
	}
	if _, err := uuid.Parse(out); err != nil {
		return "", fmt.Errorf("blkid returned malformed UUID %q for %s: %w", out, device, err)
	}
	return out, nil
}

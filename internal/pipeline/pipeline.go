// Package pipeline sequences the destructive steps that convert a block
// device into a LUKS2 container in place. The sequence is strictly linear
// and forward-only: each external command runs to completion, fully drained,
// before the next begins, and nothing is retried or rolled back.
package pipeline

import (
	"fmt"
	"os"

	"github.com/mgarrido/reluks/internal/bootpart"
	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/runner"
)

// Step names, in pipeline order.
const (
	StepFsck        = "fsck"
	StepMinimize    = "minimize"
	StepCreateBoot  = "boot"
	StepReencrypt   = "reencrypt"
	StepIntegration = "chroot"
)

// Options selects which steps run and against what. Reencryption itself is
// the only step that cannot be skipped.
type Options struct {
	Device      string
	Passphrase  string
	ReduceSize  string // defaults to cfg.ReduceSize when empty
	Fsck        bool
	Minimize    bool
	CreateBoot  bool
	Integration bool

	// OnStep, if set, is invoked as each step begins (1-based index).
	OnStep func(name string, index, total int)
}

// Steps returns the ordered step sequence the options select.
func Steps(opts Options) []string {
	var steps []string
	if opts.Fsck {
		steps = append(steps, StepFsck)
	}
	if opts.Minimize {
		steps = append(steps, StepMinimize)
	}
	if opts.CreateBoot {
		steps = append(steps, StepCreateBoot)
	}
	steps = append(steps, StepReencrypt)
	if opts.Integration {
		steps = append(steps, StepIntegration)
	}
	return steps
}

// tools returns the external programs the selected steps depend on.
func tools(opts Options) []string {
	required := []string{"cryptsetup", "lsblk", "e2fsck", "resize2fs"}
	if opts.CreateBoot {
		required = append(required, "parted")
	}
	if opts.CreateBoot || opts.Integration {
		required = append(required, "blkid")
	}
	return required
}

// Run drives the pipeline from start to done. On failure it returns the
// error of the offending step; *runner.ExitError failures carry the exact
// command and exit code. The ephemeral key file is removed on every exit
// path, including a panicking step.
func Run(r runner.Runner, sink runner.Sink, cfg *config.Config, opts Options) (err error) {
	for _, tool := range tools(opts) {
		if !r.Available(tool) {
			return fmt.Errorf("required tool %q not found", tool)
		}
	}

	reduce := opts.ReduceSize
	if reduce == "" {
		reduce = cfg.ReduceSize
	}

	keyfile, err := writeKeyFile(opts.Passphrase)
	if err != nil {
		return err
	}
	defer os.Remove(keyfile)
	defer func() {
		if p := recover(); p != nil {
			sink(fmt.Sprintf("[UNEXPECTED] %v", p))
			err = fmt.Errorf("unexpected failure: %v", p)
		}
	}()

	steps := Steps(opts)
	total := len(steps)
	num := 0
	banner := func(name, what string) {
		num++
		if opts.OnStep != nil {
			opts.OnStep(name, num, total)
		}
		sink(fmt.Sprintf("== Step %d/%d: %s ==", num, total, what))
	}

	if opts.Fsck {
		banner(StepFsck, "checking filesystem (e2fsck -f -y)")
		if err := r.Stream(sink, "e2fsck", "-f", "-y", opts.Device); err != nil {
			return err
		}
	}

	if opts.Minimize {
		banner(StepMinimize, "shrinking filesystem to minimum (resize2fs -M)")
		if err := r.Stream(sink, "resize2fs", "-M", opts.Device); err != nil {
			return err
		}
	}

	if opts.CreateBoot {
		banner(StepCreateBoot, "creating /boot partition if missing")
		if err := bootpart.Ensure(r, sink, cfg, opts.Device); err != nil {
			sink(fmt.Sprintf("[WARN] could not create /boot automatically: %v", err))
		}
	}

	banner(StepReencrypt, "reencrypting with cryptsetup reencrypt (LUKS2)")
	if err := r.Stream(sink,
		"cryptsetup", "reencrypt",
		"--batch-mode",
		"--encrypt", "--type", "luks2",
		"--hash", "sha256", "--pbkdf", "pbkdf2",
		"--reduce-device-size", reduce,
		"--key-file", keyfile,
		opts.Device,
	); err != nil {
		return err
	}

	if opts.Integration {
		banner(StepIntegration, "mounting, chroot and system configuration")
		if err := integrate(r, sink, cfg, opts.Device, keyfile); err != nil {
			return err
		}
	}

	sink("process finished successfully")
	return nil
}

// writeKeyFile stores the passphrase in a private temporary file, the only
// place it exists outside process memory.
func writeKeyFile(passphrase string) (string, error) {
	f, err := os.CreateTemp("", "reluks-key-")
	if err != nil {
		return "", fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(passphrase); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close key file: %w", err)
	}
	return f.Name(), nil
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/journal"
	"github.com/mgarrido/reluks/internal/pipeline"
	"github.com/mgarrido/reluks/internal/runner"
	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <device>",
	Short: "Reencrypt a device to LUKS2 in place",
	Long: `Convert the given partition or disk into a LUKS2 container in place.

Steps, in order: filesystem check, shrink to minimum, optional /boot
partition creation, reencryption, optional chroot system configuration.
The reencryption step is the point of no return.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncrypt,
}

func init() {
	encryptCmd.Flags().String("reduce-size", "", "space reserved for LUKS2 headers (default from config, 32M)")
	encryptCmd.Flags().Bool("skip-fsck", false, "skip the e2fsck -f -y pre-check")
	encryptCmd.Flags().Bool("skip-minimize", false, "skip resize2fs -M before reencrypting")
	encryptCmd.Flags().Bool("create-boot", false, "create a /boot partition if missing (best effort)")
	encryptCmd.Flags().Bool("configure-system", false, "mount and configure the system to boot from the encrypted root (chroot + GRUB)")
	encryptCmd.Flags().String("passphrase-file", "", "read the passphrase from this file instead of stdin")
	encryptCmd.Flags().Bool("yes", false, "do not ask for confirmation")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return errors.New("this command must run as root")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	device := args[0]
	reduce, _ := cmd.Flags().GetString("reduce-size")
	if reduce == "" {
		reduce = cfg.ReduceSize
	}
	if _, err := humanize.ParseBytes(reduce); err != nil {
		return fmt.Errorf("invalid reduce-size %q: %w", reduce, err)
	}

	skipFsck, _ := cmd.Flags().GetBool("skip-fsck")
	skipMinimize, _ := cmd.Flags().GetBool("skip-minimize")
	createBoot, _ := cmd.Flags().GetBool("create-boot")
	configureSystem, _ := cmd.Flags().GetBool("configure-system")
	yes, _ := cmd.Flags().GetBool("yes")

	passphrase, err := readPassphrase(cmd)
	if err != nil {
		return err
	}

	if !yes {
		if err := confirm(device); err != nil {
			return err
		}
	}

	opts := pipeline.Options{
		Device:      device,
		Passphrase:  passphrase,
		ReduceSize:  reduce,
		Fsck:        !skipFsck,
		Minimize:    !skipMinimize,
		CreateBoot:  createBoot,
		Integration: configureSystem,
	}

	// Journal is best-effort; never block the pipeline on it.
	var jnl *journal.Journal
	var runID int64
	if j, err := journal.Open(cfg.JournalPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: journal unavailable: %v\n", err)
	} else {
		jnl = j
		defer jnl.Close()
		if id, err := jnl.BeginRun(device, pipeline.Steps(opts)); err == nil {
			runID = id
		}
	}
	opts.OnStep = func(name string, index, total int) {
		if jnl != nil && runID != 0 {
			if err := jnl.RecordStep(runID, index, name); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
	}

	runErr := pipeline.Run(runner.Exec{}, logSink(os.Stdout), cfg, opts)

	if jnl != nil && runID != 0 {
		outcome, errMsg := "completed", ""
		if runErr != nil {
			outcome, errMsg = "failed", runErr.Error()
		}
		if err := jnl.FinishRun(runID, outcome, errMsg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	return runErr
}

// logSink timestamps every line except echoed command lines, mirroring how
// the log pane of the original front end rendered output.
func logSink(w *os.File) runner.Sink {
	return func(line string) {
		if strings.HasPrefix(line, "$") {
			fmt.Fprintln(w, line)
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("15:04:05"), line)
	}
}

func readPassphrase(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("passphrase-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		pass := strings.TrimRight(string(data), "\n")
		if pass == "" {
			return "", errors.New("passphrase file is empty")
		}
		return pass, nil
	}

	tty := isatty.IsTerminal(os.Stdin.Fd())
	if tty {
		fmt.Print("LUKS passphrase: ")
	}
	pass, err := readLine(stdin)
	if err != nil {
		return "", err
	}
	if pass == "" {
		return "", errors.New("empty passphrase")
	}
	if tty {
		fmt.Print("Confirm passphrase: ")
		again, err := readLine(stdin)
		if err != nil {
			return "", err
		}
		if pass != again {
			return "", errors.New("passphrases do not match")
		}
	}
	return pass, nil
}

// stdin is shared so successive prompts read from one buffered stream.
var stdin = bufio.NewReader(os.Stdin)

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\n"), nil
}

func confirm(device string) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return errors.New("refusing to run without confirmation; pass --yes in non-interactive use")
	}
	fmt.Printf("About to reencrypt %s. This may take a long time and cannot be aborted safely.\n", device)
	fmt.Print("Type YES to continue: ")
	answer, err := readLine(stdin)
	if err != nil {
		return err
	}
	if answer != "YES" {
		return errors.New("aborted")
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/mgarrido/reluks/internal/version"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "reluks",
	Short:   "In-place LUKS2 reencryption tool",
	Version: version.Version,
	Long: `reluks converts an unencrypted block device into a LUKS2 container
in place, optionally carving out a dedicated /boot partition first, and
optionally reconfiguring the installed system (crypttab, fstab, initramfs,
GRUB) to boot from the encrypted root.

WARNING: reencrypting a disk is destructive and not abortable once started.
Choosing the wrong device or interrupting the process can leave the system
unusable. Keep backups.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/reluks/config.yaml)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

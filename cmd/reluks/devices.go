package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mgarrido/reluks/internal/blockdev"
	"github.com/mgarrido/reluks/internal/runner"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List disks and partitions",
	Long: `List the disks and partitions visible to the kernel, with size,
filesystem type and current mountpoint. Mounted partitions are flagged:
review them before reencrypting.`,
	Run: runDevices,
}

func init() {
	devicesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runDevices(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	devices := blockdev.List(runner.Exec{})

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(devices)
		return
	}

	if len(devices) == 0 {
		fmt.Println("no block devices detected")
		return
	}

	var mounted []string
	for _, d := range devices {
		line := fmt.Sprintf("%-16s [%s]  %8s", d.Path, d.Type, d.Size)
		if d.FSType != "" {
			line += "  " + d.FSType
		}
		if d.Mountpoint != "" {
			line += "  (mounted at " + d.Mountpoint + ")"
			mounted = append(mounted, d.Path+" at "+d.Mountpoint)
		}
		fmt.Println(line)
	}

	if len(mounted) > 0 {
		warn := "warning: mounted partitions detected, review before reencrypting:"
		if isatty.IsTerminal(os.Stdout.Fd()) {
			warn = "\033[33m" + warn + "\033[0m"
		}
		fmt.Println()
		fmt.Println(warn)
		for _, m := range mounted {
			fmt.Println("  - " + m)
		}
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/journal"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past reencryption runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer jnl.Close()

	runs, err := jnl.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	for _, run := range runs {
		line := fmt.Sprintf("#%-4d %-10s %-16s %s  [%s]",
			run.ID, run.Outcome, run.Device,
			humanize.Time(run.StartedAt),
			strings.Join(run.Steps, ","))
		fmt.Println(line)
		if run.Error != "" {
			fmt.Println("      " + run.Error)
		}
	}
	return nil
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Current billing block and burn rate",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	entries, err := loadHistory()
	if err != nil {
		return err
	}

	now := time.Now()
	window := cfg.Blocks.Window
	sum, ok := newSummarizer().CurrentBillingBlock(entries, now)
	if ok && len(pipeline.FilterBlocksByModel([]model.BillingBlockSummary{sum}, flagModel)) == 0 {
		ok = false
	}
	fmt.Println()
	if !ok {
		fmt.Println("  No active billing block.")
		return nil
	}

	fmt.Println(cli.RenderTitle("CURRENT BLOCK  " + sum.Project))
	fmt.Println()
	fmt.Printf("  %s\n\n", cli.RenderProgressBar(sum.ElapsedMinutes, window.Minutes(), 40, sum.Status.Level))

	rows := [][]string{
		{"Started", cli.FormatClock(sum.Start, now)},
		{"Ends", cli.FormatClock(sum.End, now)},
		{"Remaining", cli.FormatMinutes(sum.RemainingMinutes)},
		{"---"},
		{"Tokens", cli.FormatTokens(sum.TotalTokens)},
		{"Cost", cli.FormatCost(sum.CostUSD)},
		{"Burn rate", cli.FormatRate(sum.BurnRate.TokensPerMinute)},
		{"Cost rate", cli.FormatCostRate(sum.BurnRate.CostPerHour)},
		{"Level", cli.RenderLevel(sum.Status.Level)},
	}
	fmt.Print(cli.RenderTable(cli.Table{Rows: rows}))

	if sum.Status.HasWarning() {
		fmt.Println()
		fmt.Println("  " + cli.RenderWarning(sum.Status.Warning))
	}
	return nil
}

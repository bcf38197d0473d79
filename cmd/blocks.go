package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
)

var (
	flagBlocksActive bool
	flagBlocksJSON   bool
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Billing block history with burn rates",
	RunE:  runBlocks,
}

func init() {
	blocksCmd.Flags().BoolVar(&flagBlocksActive, "active", false, "Only blocks still open now")
	blocksCmd.Flags().BoolVar(&flagBlocksJSON, "json", false, "Emit JSON instead of a table")
	rootCmd.AddCommand(blocksCmd)
}

func runBlocks(_ *cobra.Command, _ []string) error {
	entries, err := loadHistory()
	if err != nil {
		return err
	}

	now := time.Now()
	since := now.AddDate(0, 0, -flagDays)
	summaries := newSummarizer().SummarizeBlocksSince(entries, since, now)
	summaries = pipeline.FilterBlocksByModel(summaries, flagModel)
	if flagBlocksActive {
		active := summaries[:0]
		for _, s := range summaries {
			if s.IsActive {
				active = append(active, s)
			}
		}
		summaries = active
	}

	if flagBlocksJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("\n  No billing blocks in the selected time range.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("BILLING BLOCKS  Last %dd", flagDays)))
	fmt.Println()

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		state := cli.Muted("closed")
		if s.IsActive {
			state = cli.FormatMinutes(s.RemainingMinutes) + " left"
		}
		rows = append(rows, []string{
			s.Start.Local().Format("Jan 02 15:04"),
			cli.Truncate(s.Project, 18),
			cli.FormatTokens(s.TotalTokens),
			cli.FormatCost(s.CostUSD),
			cli.FormatRate(s.BurnRate.TokensPerMinute),
			cli.RenderLevel(s.Status.Level),
			state,
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Start", "Project", "Tokens", "Cost", "Rate", "Level", "State"},
		Rows:    rows,
	}))
	return nil
}

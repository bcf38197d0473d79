package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/burnwatch/internal/cli"
	"github.com/theirongolddev/burnwatch/internal/model"
	"github.com/theirongolddev/burnwatch/internal/pipeline"
)

var flagProjectsModels bool

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Project usage ranking",
	RunE:  runProjects,
}

func init() {
	projectsCmd.Flags().BoolVar(&flagProjectsModels, "models", false, "Rank models instead of projects")
	rootCmd.AddCommand(projectsCmd)
}

func runProjects(_ *cobra.Command, _ []string) error {
	entries, err := loadEntries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("\n  No usage found.")
		return nil
	}

	var until time.Time
	since := time.Now().AddDate(0, 0, -flagDays)

	if flagProjectsModels {
		return printModels(pipeline.AggregateModels(entries, since, until))
	}

	projects := pipeline.AggregateProjects(entries, since, until)
	if len(projects) == 0 {
		fmt.Println("\n  No project data in the selected time range.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("PROJECTS  Last %dd", flagDays)))
	fmt.Println()

	rows := make([][]string, 0, len(projects))
	for _, ps := range projects {
		rows = append(rows, []string{
			cli.Truncate(ps.Project, 18),
			cli.FormatNumber(int64(ps.Sessions)),
			cli.FormatNumber(int64(ps.Entries)),
			cli.FormatTokens(ps.TotalTokens),
			cli.FormatCost(ps.CostUSD),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Project", "Sessions", "Calls", "Tokens", "Cost"},
		Rows:    rows,
	}))
	return nil
}

func printModels(models []model.ModelTokenStats) error {
	if len(models) == 0 {
		fmt.Println("\n  No model data in the selected time range.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("MODELS  Last %dd", flagDays)))
	fmt.Println()

	rows := make([][]string, 0, len(models))
	for _, ms := range models {
		rows = append(rows, []string{
			ms.Model,
			cli.FormatNumber(int64(ms.Entries)),
			cli.FormatTokens(ms.TotalTokens),
			cli.FormatCost(ms.CostUSD),
			cli.FormatPercent(ms.SharePercent / 100),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Calls", "Tokens", "Cost", "Share"},
		Rows:    rows,
	}))
	return nil
}

package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"duck-etl/internal/app"
	"duck-etl/internal/db/repository"
	"duck-etl/internal/domain"
	"duck-etl/internal/service/etl"
)

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuns(cmd, func(runs *repository.RunRepo) error {
				list, err := runs.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					views := make([]runView, 0, len(list))
					for i := range list {
						views = append(views, newRunView(&list[i], nil))
					}
					return PrintJSON(cmd.OutOrStdout(), views)
				}
				rows := make([][]string, 0, len(list))
				for _, r := range list {
					rows = append(rows, []string{
						r.ID,
						r.Status,
						formatTime(&r.StartedAt),
						formatDuration(r.StartedAt, r.FinishedAt),
						joinStages(r.Stages),
						oneLine(deref(r.ErrorMessage)),
					})
				}
				PrintTable(cmd.OutOrStdout(), []string{"id", "status", "started", "duration", "stages", "error"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id|latest>",
		Short: "Show a run and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(cmd, func(runs *repository.RunRepo) error {
				id := args[0]
				if id == "latest" {
					latest, err := runs.LatestRun(cmd.Context())
					if err != nil {
						return err
					}
					id = latest.ID
				}
				summary, err := etl.LoadSummary(cmd.Context(), runs, id)
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), getOutputFormat(cmd), summary)
			})
		},
	}
}

// withRuns opens the ledger read-only for the duration of fn.
func withRuns(cmd *cobra.Command, fn func(*repository.RunRepo) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	runs, closeLedger, err := app.OpenRuns(cfg)
	if err != nil {
		return err
	}
	defer closeLedger() //nolint:errcheck
	return fn(runs)
}

func joinStages(stages []string) string {
	if len(stages) == len(domain.StageOrder) {
		return "all"
	}
	return strings.Join(stages, ",")
}

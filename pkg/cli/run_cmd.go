package cli

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"duck-etl/internal/app"
	"duck-etl/internal/domain"
	"duck-etl/internal/logging"
	"duck-etl/internal/service/etl"
)

func newRunCmd() *cobra.Command {
	var (
		stages []string
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline stages",
		Long: "Runs the selected stages in order (" + strings.Join(domain.StageOrder, ", ") + ").\n" +
			"The first failing stage stops the run; its summary is still printed and recorded in the ledger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := etl.SelectStages(stages)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("close pipeline", "error", err)
				}
			}()

			summary, runErr := a.Run(ctx, selected, resume)
			if summary != nil {
				if err := printRun(cmd.OutOrStdout(), getOutputFormat(cmd), summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stages", nil, "Stages to run, comma separated (default all)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Reuse the stages completed by the latest unfinished run")

	return cmd
}

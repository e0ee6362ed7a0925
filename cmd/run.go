package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadstream/internal/progress"
)

func newRunCmd() *cobra.Command {
	var (
		regions  []string
		category string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one job and prints its event stream",
		Long: `Runs a single lead generation job in-process and writes each event to
stdout in the same data: frame format the HTTP stream uses. Regions and
category default to the configured job defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req := resolveConfig(cmd.Context()).DefaultRequest()
			if cmd.Flags().Changed("regions") {
				req.Regions = regions
			}
			if cmd.Flags().Changed("category") {
				req.Category = category
			}

			outcome, runErr := appInstance.RunJob(cmd.Context(), req, cmd.OutOrStdout())

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 30*time.Second)
			defer cancel()
			if err := appInstance.Close(closeCtx); err != nil && runErr == nil {
				runErr = fmt.Errorf("close: %w", err)
			}
			if runErr != nil {
				return runErr
			}
			if outcome != progress.OutcomeComplete {
				return fmt.Errorf("job ended with outcome %q", outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "regions to search, comma separated")
	cmd.Flags().StringVar(&category, "category", "", "practice area to search")
	return cmd
}

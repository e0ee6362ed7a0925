// Package cmd defines the leadstream command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/app"
	"github.com/JakeFAU/leadstream/internal/config"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/progress"
)

var cfgFile string

type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"
)

// App is the subset of *app.App the commands use. Tests swap in fakes.
type App interface {
	Serve(ctx context.Context) error
	RunJob(ctx context.Context, req lead.Request, w io.Writer) (progress.Outcome, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg, app.Options{})
}

// loadConfig is swapped in tests that should not touch the environment.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadstream",
		Short: "Generates verified attorney leads and streams job progress.",
		Long: `leadstream scrapes public directory listings for a practice area across
one or more regions, verifies each profile, and streams progress and results
to clients as server-sent events.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx = context.WithValue(ctx, configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newRunCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey).(config.Config)
	return cfg
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package cli implements the research command line: running research
// in-process, inspecting stored tasks, and serving the HTTP API or MCP tools.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/app"
	"github.com/dumplingcafe/research/internal/config"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// AppFactory builds the service for a command.
type AppFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error)

func defaultFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// env is shared by all subcommands.
type env struct {
	configPath string
	logLevel   string
	factory    AppFactory
}

// open loads configuration and builds the service. Callers must Close it.
func (e *env) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	if e.logLevel != "" {
		cfg.Logging.Level = e.logLevel
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, err
	}
	return e.factory(ctx, cfg, logger)
}

// NewRootCmd builds the command tree. A nil factory uses app.New.
func NewRootCmd(factory AppFactory) *cobra.Command {
	if factory == nil {
		factory = defaultFactory
	}
	e := &env{factory: factory}

	root := &cobra.Command{
		Use:   "research",
		Short: "Multi-agent research with cost accounting",
		Long: `research runs research tasks against OpenRouter models.

Quick mode answers with one web-search call. Deep mode plans sections,
researches and writes each one, and optionally has a critic review every
draft. Every model call is priced and the task total is tracked.

Configuration is read from --config or RESEARCH_CONFIG_PATH; the API key
from OPENROUTER_API_KEY.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "path to research.yaml")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(e),
		newListCmd(e),
		newShowCmd(e),
		newDeleteCmd(e),
		newModelsCmd(e),
		newWatchCmd(e),
		newServeCmd(e),
		newMCPCmd(e),
		newTokenCmd(e),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "research %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
			},
		},
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(nil).Execute()
}

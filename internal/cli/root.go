package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"refinery/internal/gateway/app"
	"refinery/internal/gateway/config"
	"refinery/internal/gateway/service/refinement"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	jsonOutput bool
	verbose    bool
)

// newService builds the refinement service behind every command. Tests swap
// it for an in-memory wiring.
var newService = func(ctx context.Context) (*refinement.Service, func() error, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	return app.NewService(ctx, cfg, app.NewLogger(cliLogLevel(), cfg.LogFormat))
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "refinectl",
	Version: Version,
	Short:   "Turn free-form requirements into epics, stories, features and tasks",
	Long: `refinectl sends a plain-language requirement to the configured LLM,
validates the structured answer and keeps a history of every refinement.

Configuration is read from the environment (and .env), the same way the
gateway reads it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON instead of the colored view")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

// cliLogLevel keeps stderr quiet unless asked: LOG_LEVEL wins, then --verbose.
func cliLogLevel() string {
	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		return lvl
	}
	if verbose {
		return "debug"
	}
	return "warn"
}

// withService runs fn against a freshly wired service and releases it after.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *refinement.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := newService(ctx)
	if err != nil {
		return NewCLIError("failed to initialize", "Check LLM_PROVIDER, STORE_BACKEND and the related settings", err)
	}
	defer func() { _ = closeFn() }()
	return fn(ctx, svc)
}

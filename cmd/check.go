package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
	"github.com/firefly-engineering/botfile-proxy/internal/errors"
	"github.com/firefly-engineering/botfile-proxy/internal/health"
	"github.com/firefly-engineering/botfile-proxy/internal/logging"
)

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logError   = logging.UserError
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the file folder and upstream are usable",
		Long: `Resolve the configuration exactly as serve does, then verify that the
base folder can be listed and the bot API server answers HTTP.

Exits non-zero when either check fails.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
	config.RegisterFlags(checkCmd.Flags())
	return checkCmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(cmd.Flags())
	if err != nil {
		return errors.ConfigError("invalid configuration", err)
	}

	logInfo("Base folder: %s", cfg.SandboxRoot)
	logInfo("Upstream: %s", cfg.Upstream)

	result := health.Check(cmd.Context(), nil, cfg)

	if result.RootReadable {
		logSuccess("Base folder readable (%d bot directories)", result.RootEntries)
	} else {
		logError("Base folder not readable: %v", result.RootError)
	}
	if result.UpstreamReachable {
		logSuccess("Upstream answered %d in %s", result.UpstreamStatus, health.FormatLatency(result.UpstreamLatency))
	} else {
		logError("%v", result.UpstreamError)
	}

	if status := result.Status(); status != health.StatusHealthy {
		return errors.New(errors.ExitGeneralError, "check failed: "+string(status))
	}
	return nil
}

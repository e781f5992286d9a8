package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is reported to telemetry and by --version. Set at build time with
// -ldflags "-X github.com/tsarna/switchboard/cmd/switchboard/cmd.Version=...".
var Version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard gateway",
	Long: `Switchboard is a WebSocket gateway speaking a small request/response
and event protocol. Clients call RPC methods and subscribe to topic
patterns to receive events published on the gateway's event bus.

The server command runs the gateway; call and subscribe are clients for
trying it out from a terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}

func setupLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(logLevel, verbose, debug))
	config.Development = debug

	return config.Build()
}

// parseLevel resolves the effective level: -d always means debug, -v raises
// the default info level to debug.
func parseLevel(level string, verbose, debug bool) zapcore.Level {
	if debug || (verbose && strings.EqualFold(level, "info")) {
		level = "debug"
	}

	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

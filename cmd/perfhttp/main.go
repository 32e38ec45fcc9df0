package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/studiowebux/perfhttp/internal/cli"
	"github.com/studiowebux/perfhttp/internal/config"
	"github.com/studiowebux/perfhttp/internal/logging"
)

var (
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "perfhttp",
	Short: "perfhttp - HTTP load test runner",
	Long: `perfhttp runs request files with independent virtual users.

Each worker keeps its own cookies, extracted variables and PAC state. Requests
are measured, checked and stored in a local SQLite database.

Examples:
  perfhttp run checkout.yaml                      # One worker
  perfhttp run checkout -w 20 -e env=staging      # 20 workers, extra variable
  perfhttp run login.http --pac http://wpad/proxy.pac --debug-fail
  perfhttp pac ./corp.pac https://api.example.com # Show the proxy decision
  perfhttp stats                                  # List stored runs
  perfhttp stats 12 -o json                       # Report of run 12`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a request file",
	Long: `Run a request file (.yaml, .yml, .json, .jsonc or .http).

Every worker runs the whole file once, in order. Values extracted from a
response are visible to the later requests of the same worker only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Run(cmd.Context(), cli.RunOptions{
			FilePath:     args[0],
			Workers:      flagWorkers,
			ExtraVars:    flagExtraVars,
			EnvFile:      flagEnvFile,
			SettingsPath: flagSettings,
			OutputFormat: flagOutput,
			PAC:          flagPAC,
			DebugAll:     flagDebugAll,
			DebugOnFail:  flagDebugFail,
			FailFast:     flagFailFast,
			LogLevel:     flagLogLevel,
			Database:     flagDatabase,
			NoStore:      flagNoStore,
			Quiet:        flagQuiet,
		})
	},
}

var pacCmd = &cobra.Command{
	Use:   "pac <source> <url>...",
	Short: "Evaluate a PAC script for one or more URLs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := commandLogger()
		if err != nil {
			return err
		}
		defer closer()
		return cli.ResolvePAC(cmd.Context(), cli.PACOptions{
			Source: args[0],
			URLs:   args[1:],
			Logger: logger,
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [run-id]",
	Short: "List stored runs or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.StatsOptions{
			Database:     flagDatabase,
			Limit:        flagLimit,
			OutputFormat: flagOutput,
		}
		if opts.Database == "" {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if opts.Database, err = settings.DatabaseFile(); err != nil {
				return err
			}
		}
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			opts.RunID = id
		}
		return cli.ShowStats(opts)
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run a local forward proxy that logs every exchange",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := commandLogger()
		if err != nil {
			return err
		}
		defer closer()
		return cli.ServeProxy(cmd.Context(), flagListen, logger)
	},
}

var mockCmd = &cobra.Command{
	Use:   "mock <config>",
	Short: "Serve canned responses to rehearse a scenario locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := commandLogger()
		if err != nil {
			return err
		}
		defer closer()
		return cli.ServeMock(cmd.Context(), args[0], flagMockListen, logger, os.Stdout)
	},
}

// Flags for run
var (
	flagWorkers   int
	flagExtraVars []string
	flagEnvFile   string
	flagPAC       string
	flagDebugAll  bool
	flagDebugFail bool
	flagFailFast  bool
	flagNoStore   bool
	flagQuiet     bool
)

// Shared flags
var (
	flagSettings string
	flagDatabase string
	flagOutput   string
	flagLogLevel string
	flagLimit    int
	flagListen   string

	flagMockListen string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagSettings, "config", "c", "", "Settings file (default: ./.perfhttp.yaml or ~/.perfhttp/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")

	runCmd.Flags().IntVarP(&flagWorkers, "workers", "w", 1, "Number of concurrent workers")
	runCmd.Flags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
	runCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")
	runCmd.Flags().StringVar(&flagPAC, "pac", "", "PAC script URL or file")
	runCmd.Flags().BoolVar(&flagDebugAll, "debug-all", false, "Log every request and response")
	runCmd.Flags().BoolVar(&flagDebugFail, "debug-fail", false, "Log failed requests and responses")
	runCmd.Flags().BoolVar(&flagFailFast, "fail-fast", false, "Stop a worker at its first unsuccessful request")
	runCmd.Flags().StringVar(&flagDatabase, "db", "", "Metrics database (default from settings)")
	runCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Keep metrics in memory only")
	runCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Do not print a line per request")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")

	statsCmd.Flags().StringVar(&flagDatabase, "db", "", "Metrics database (default from settings)")
	statsCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Number of runs to list")
	statsCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json/yaml)")

	proxyCmd.Flags().StringVarP(&flagListen, "listen", "l", "127.0.0.1:8888", "Listen address")

	mockCmd.Flags().StringVarP(&flagMockListen, "listen", "l", "", "Listen address (default from config, then 127.0.0.1:8080)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pacCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(mockCmd)
}

func loadSettings() (*config.Settings, error) {
	if flagSettings != "" {
		return config.LoadSettings(flagSettings)
	}
	return config.LoadDefaultSettings()
}

// commandLogger builds the logger for commands that do not run a file
func commandLogger() (zerolog.Logger, func(), error) {
	settings, err := loadSettings()
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	if flagLogLevel != "" {
		settings.Log.Level = flagLogLevel
	}
	if settings.Log.File == "" {
		settings.Log.File = filepath.Join(config.LogDir, "perfhttp.log")
	}
	logger, closer, err := logging.New(settings.Log)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return logger, func() { closer.Close() }, nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"etl-catalog/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	return execute(newRootCmd(), os.Stdout, os.Stderr)
}

func execute(rootCmd *cobra.Command, stdout, stderr io.Writer) int {
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		var printed *printedError
		if errors.As(err, &printed) {
			return 1
		}
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// printedError is a failure a command already wrote to stdout.
type printedError struct{ err error }

func (e *printedError) Error() string { return e.err.Error() }

func (e *printedError) Unwrap() error { return e.err }

// settings are the resolved locations and logger shared by every command.
type settings struct {
	envFile      string
	dataDir      string
	snapshotsDir string
	dagFile      string
	stepsDir     string
	stateDB      string
	logLevel     string
	output       string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	s := &settings{}

	rootCmd := &cobra.Command{
		Use:           "etl",
		Short:         "Dataset ETL runner",
		Long:          "Build, validate, and inspect the steps of a versioned dataset pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(s.output); err != nil {
				return err
			}
			return s.resolve(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	pf.StringVar(&s.dataDir, "data-dir", "", "Directory of built datasets (env ETL_DATA_DIR)")
	pf.StringVar(&s.snapshotsDir, "snapshots-dir", "", "Directory of snapshots (env ETL_SNAPSHOTS_DIR)")
	pf.StringVar(&s.dagFile, "dag", "", "Root DAG file (env ETL_DAG_FILE)")
	pf.StringVar(&s.stepsDir, "steps-dir", "", "Directory of step metadata files (env ETL_STEPS_DIR)")
	pf.StringVar(&s.stateDB, "state-db", "", "SQLite run ledger (env ETL_STATE_DB)")
	pf.StringVar(&s.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVarP(&s.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newRunCmd(s))
	rootCmd.AddCommand(newGraphCmd(s))
	rootCmd.AddCommand(newValidateCmd(s))
	rootCmd.AddCommand(newHistoryCmd(s))
	rootCmd.AddCommand(newInitCmd(s))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve applies precedence: flag > env > .env file > default.
func (s *settings) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(s.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") && os.Getenv("ETL_SNAPSHOTS_DIR") == "" {
		cfg.SnapshotsDir = s.dataDir + "/snapshots"
	}
	override(flags, "data-dir", &cfg.DataDir, s.dataDir)
	override(flags, "snapshots-dir", &cfg.SnapshotsDir, s.snapshotsDir)
	override(flags, "dag", &cfg.DAGFile, s.dagFile)
	override(flags, "steps-dir", &cfg.StepsDir, s.stepsDir)
	override(flags, "state-db", &cfg.StateDB, s.stateDB)
	override(flags, "log-level", &cfg.LogLevel, s.logLevel)

	s.cfg = cfg
	s.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		s.logger.Warn(w)
	}
	return nil
}

func override(flags *pflag.FlagSet, name string, dst *string, v string) {
	if flags.Changed(name) {
		*dst = v
	}
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		// Completion needs no checkout.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}

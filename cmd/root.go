package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"opsrun/pkg/config"
	"opsrun/pkg/log"
	"opsrun/pkg/metrics"
	"opsrun/pkg/process"

	"github.com/spf13/cobra"
)

type contextKey string

const loggerKey contextKey = "logger"

// Exit codes for failures of opsrun itself, following coreutils timeout.
const (
	exitFailure      = 1
	exitTimeout      = 124
	exitInternal     = 125
	exitCannotInvoke = 126
	exitNotFound     = 127
)

var (
	cfgFile     string
	logLevel    string
	logFormat   string
	metricsFile string
	jsonOutput  bool

	appConfig   = config.Default()
	collector   *metrics.Collector
	metricsPath string

	rootCmd = &cobra.Command{
		Use:   "opsrun",
		Short: "opsrun runs commands under a hard timeout and waits for remote state",
		Long: `opsrun executes external commands with a wall-clock timeout and forced
termination, and polls remote resources until they reach a terminal status.
Defaults come from ./opsrun.yaml when present.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// ExitError carries the process exit code a command wants. Err may be nil
// when the code alone says enough, e.g. a child's own non-zero exit.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	os.Exit(exitCode(rootCmd.ErrOrStderr(), err))
}

// exitCode flushes metrics, reports err and maps it to a process exit code.
func exitCode(w io.Writer, err error) int {
	if werr := writeMetrics(); werr != nil {
		fmt.Fprintf(w, "Error: %v\n", werr)
	}
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(w, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitFailure
}

func setup(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	format, err := log.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	bootstrap := log.NewSlogLoggerWithFormat(level, format, cmd.ErrOrStderr())

	var cfg *config.Config
	if cmd.Flags().Changed("config") {
		cfg, err = config.LoadConfig(cfgFile, bootstrap)
	} else {
		cfg, err = config.LoadOrDefault(cfgFile, bootstrap)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags given on the command line beat the config file.
	if !cmd.Flags().Changed("log-level") {
		if level, err = log.ParseLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("log-format") {
		if format, err = log.ParseFormat(cfg.LogFormat); err != nil {
			return err
		}
	}
	metricsPath = cfg.MetricsFile
	if cmd.Flags().Changed("metrics-file") {
		metricsPath = metricsFile
	}

	logger := log.NewSlogLoggerWithFormat(level, format, cmd.ErrOrStderr())
	appConfig = cfg
	collector = metrics.New()

	ctx := context.WithValue(cmd.Context(), loggerKey, log.Logger(logger))
	cmd.SetContext(ctx)
	return nil
}

func loggerFrom(cmd *cobra.Command) log.Logger {
	if l, ok := cmd.Context().Value(loggerKey).(log.Logger); ok {
		return l
	}
	return log.Nop{}
}

func writeMetrics() error {
	if collector == nil || metricsPath == "" {
		return nil
	}
	return collector.WriteTextfile(metricsPath)
}

func newRunner(cmd *cobra.Command) *process.Runner {
	opts := []process.Option{
		process.WithLogger(loggerFrom(cmd)),
		process.WithEchoWriter(cmd.OutOrStdout()),
		process.WithGracePeriod(appConfig.Exec.GracePeriod),
		process.WithWaitDelay(appConfig.Exec.WaitDelay),
	}
	if collector != nil {
		opts = append(opts, process.WithRecorder(collector))
	}
	return process.New(opts...)
}

// processFailure maps a runner error to the exit codes shells use.
func processFailure(err error) error {
	var perr *process.Error
	switch {
	case errors.As(err, &perr) && perr.Op == process.OpValidate:
		return &ExitError{Code: exitInternal, Err: err}
	case errors.Is(err, process.ErrTimeout):
		return &ExitError{Code: exitTimeout, Err: err}
	case errors.Is(err, process.ErrInvocation) && errors.Is(err, fs.ErrPermission):
		return &ExitError{Code: exitCannotInvoke, Err: err}
	case errors.Is(err, process.ErrInvocation):
		return &ExitError{Code: exitNotFound, Err: err}
	default:
		return &ExitError{Code: exitInternal, Err: err}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file (optional when left at the default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path on exit")
}

package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"opsrun/pkg/process"

	"github.com/spf13/cobra"
)

var (
	execTimeout   time.Duration
	execNoCapture bool
	execEcho      bool
	execLarge     bool
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec [flags] -- PROGRAM [ARGS...]",
	Short: "Runs a command under a hard wall-clock timeout",
	Long: `The exec command runs PROGRAM directly, without a shell, and kills it together
with its process group once the timeout expires. Combined stdout and stderr are
captured line by line and printed when the command finishes.

With --large-buffer stdout and stderr are collected separately and a timed-out
command receives SIGTERM, then SIGKILL after the configured grace period.

The exit status is the child's own; 124 means the timeout fired.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := appConfig.Exec.Timeout
		if cmd.Flags().Changed("timeout") {
			timeout = execTimeout
		}
		spec := process.CommandSpec{
			Args:    args,
			Timeout: timeout,
			Capture: !execNoCapture,
			Echo:    execEcho,
		}
		runner := newRunner(cmd)

		if execLarge {
			return runLarge(cmd, runner, spec)
		}

		res, err := runner.Execute(spec)
		if err != nil {
			return processFailure(err)
		}

		if jsonOutput {
			if err := printJSON(cmd, newExecResultForJSON(args, res)); err != nil {
				return err
			}
		} else if spec.Capture && !spec.Echo && res.Output != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
		}

		if res.TimedOut {
			return &ExitError{Code: exitTimeout, Err: fmt.Errorf("%s timed out after %s", spec.Program(), timeout)}
		}
		return childExit(res.ExitCode)
	},
}

func runLarge(cmd *cobra.Command, runner *process.Runner, spec process.CommandSpec) error {
	res, err := runner.ExecuteLarge(spec)
	if err != nil {
		return processFailure(err)
	}
	if jsonOutput {
		if err := printJSON(cmd, newLargeResultForJSON(spec.Args, res)); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	}
	return childExit(res.ExitCode)
}

// childExit passes a child's exit status through. Signal deaths report -1
// from the runner and map to a plain failure.
func childExit(code int) error {
	switch {
	case code == 0:
		return nil
	case code < 0:
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("command terminated by signal")}
	default:
		return &ExitError{Code: code}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
	return nil
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().SetInterspersed(false)
	execCmd.Flags().DurationVar(&execTimeout, "timeout", process.DefaultTimeout, "Kill the command after this long (default from config exec.timeout)")
	execCmd.Flags().BoolVar(&execNoCapture, "no-capture", false, "Discard the command's output")
	execCmd.Flags().BoolVar(&execEcho, "echo", false, "Stream output lines as they are produced")
	execCmd.Flags().BoolVar(&execLarge, "large-buffer", false, "Collect stdout and stderr separately and escalate SIGTERM to SIGKILL on timeout")
	execCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result in JSON format")
}

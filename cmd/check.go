package cmd

import (
	"errors"
	"fmt"

	"opsrun/pkg/baseline"
	"opsrun/pkg/process"

	"github.com/spf13/cobra"
)

var (
	checkBaseline string
	checkUpdate   bool
	checkNoColor  bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check --baseline FILE [flags] -- PROGRAM [ARGS...]",
	Short: "Compares a command's output with a recorded baseline",
	Long: `The check command runs PROGRAM like exec does and compares its captured
output with the contents of --baseline. Any difference is printed as a
character diff and the exit status is 1. Use --update to record the current
output as the new baseline.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := loggerFrom(cmd)

		spec := process.CommandSpec{Args: args, Timeout: appConfig.Exec.Timeout, Capture: true}
		res, err := newRunner(cmd).Execute(spec)
		if err != nil {
			return processFailure(err)
		}
		if res.TimedOut {
			return &ExitError{Code: exitTimeout, Err: fmt.Errorf("%s timed out after %s", spec.Program(), spec.Timeout)}
		}
		if !res.Success() {
			return &ExitError{Code: exitFailure, Err: fmt.Errorf("%s exited with code %d", spec.Program(), res.ExitCode)}
		}

		if checkUpdate {
			if err := baseline.Save(checkBaseline, res.Output); err != nil {
				return err
			}
			logger.Info("Baseline updated", "path", checkBaseline)
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline updated: %s\n", checkBaseline)
			return nil
		}

		drift, err := baseline.Compare(checkBaseline, res.Output)
		if errors.Is(err, baseline.ErrNoBaseline) {
			return fmt.Errorf("%w; record one with --update", err)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			out := driftForJSON{Baseline: checkBaseline, Changed: drift.Changed(), Distance: drift.Distance()}
			if drift.Changed() {
				out.Diff = drift.Render(false)
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}
		} else if drift.Changed() {
			for _, line := range drift.Details(!checkNoColor) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "No drift: %s\n", checkBaseline)
		}

		if drift.Changed() {
			return &ExitError{Code: exitFailure, Err: fmt.Errorf("output drifted from baseline %s", checkBaseline)}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().SetInterspersed(false)
	checkCmd.Flags().StringVar(&checkBaseline, "baseline", "", "File holding the expected output")
	checkCmd.Flags().BoolVar(&checkUpdate, "update", false, "Record the current output as the baseline")
	checkCmd.Flags().BoolVar(&checkNoColor, "no-color", false, "Print the diff without ANSI colors")
	checkCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the comparison in JSON format")
	_ = checkCmd.MarkFlagRequired("baseline")
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"opsrun/pkg/poller"
	"opsrun/pkg/process"
	"opsrun/pkg/statusquery"

	"github.com/spf13/cobra"
)

var (
	waitTerminal []string
	waitKnown    []string
	waitInterval time.Duration
	waitMaxWait  time.Duration
	waitURL      string
	waitField    string
	waitName     string
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait --terminal STATUS [flags] (--url URL --field PATH | -- PROGRAM [ARGS...])",
	Short: "Polls a status source until it reports a terminal status",
	Long: `The wait command queries a status source immediately and then once per
interval until the reported status is one of the --terminal values, the
query fails, or --max-wait elapses.

The status comes either from a JSON field of an HTTP endpoint (--url and
--field, e.g. run.deploymentRunStatus) or from the trimmed output of a
command. A failed query ends the wait; it is not retried.

Exit status is 0 when a terminal status was seen and 1 otherwise.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := loggerFrom(cmd)

		query, err := buildQuery(cmd, args)
		if err != nil {
			return err
		}
		if len(waitKnown) > 0 {
			for _, s := range waitTerminal {
				if !slices.Contains(waitKnown, s) {
					return fmt.Errorf("terminal status %q is not among --known statuses", s)
				}
			}
			query = poller.WithKnownStatuses(query, waitKnown...)
		}

		spec := poller.Spec{
			Name:     waitName,
			Query:    query,
			Terminal: waitTerminal,
			Interval: appConfig.Poll.Interval,
			MaxWait:  appConfig.Poll.MaxWait,
		}
		if cmd.Flags().Changed("interval") {
			spec.Interval = waitInterval
		}
		if cmd.Flags().Changed("max-wait") {
			spec.MaxWait = waitMaxWait
			if !cmd.Flags().Changed("interval") && spec.MaxWait > 0 {
				spec.Interval = min(spec.Interval, spec.MaxWait)
			}
		}

		opts := []poller.Option{poller.WithLogger(logger)}
		if collector != nil {
			opts = append(opts, poller.WithRecorder(collector))
		}
		h, err := poller.Start(spec, opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-h.Done():
		case <-ctx.Done():
			logger.Warn("Interrupted, stopping poll session", "session", h.ID())
			h.Stop()
			<-h.Done()
		}
		out := h.Snapshot()

		if jsonOutput {
			if err := printJSON(cmd, newPollOutcomeForJSON(waitName, out)); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (status %q after %d queries in %s)\n",
				label(waitName, out.SessionID), out.State, out.LastStatus, out.Queries, out.Elapsed.Round(time.Millisecond))
		}

		if !out.Succeeded {
			return &ExitError{Code: exitFailure, Err: out.Err}
		}
		return nil
	},
}

func buildQuery(cmd *cobra.Command, args []string) (poller.QueryFunc, error) {
	switch {
	case waitURL != "" && len(args) > 0:
		return nil, errors.New("use either --url or a status command, not both")
	case waitURL != "":
		if waitField == "" {
			return nil, errors.New("--field is required with --url")
		}
		return statusquery.HTTPJSON(nil, waitURL, waitField), nil
	case len(args) > 0:
		spec := process.CommandSpec{Args: args, Timeout: appConfig.Exec.Timeout}
		return statusquery.Command(newRunner(cmd), spec), nil
	default:
		return nil, errors.New("a status source is required: --url with --field, or a command after --")
	}
}

func label(name, session string) string {
	if name != "" {
		return name
	}
	return "session " + session
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().SetInterspersed(false)
	waitCmd.Flags().StringSliceVar(&waitTerminal, "terminal", nil, "Status that ends the wait (repeatable)")
	waitCmd.Flags().StringSliceVar(&waitKnown, "known", nil, "Every status the source may report; anything else fails the wait")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", poller.DefaultInterval, "Time between the end of one query and the start of the next (default from config poll.interval)")
	waitCmd.Flags().DurationVar(&waitMaxWait, "max-wait", poller.DefaultMaxWait, "Give up after this long (default from config poll.max-wait)")
	waitCmd.Flags().StringVar(&waitURL, "url", "", "HTTP endpoint returning a JSON status document")
	waitCmd.Flags().StringVar(&waitField, "field", "", "Dotted path of the status field in the JSON document")
	waitCmd.Flags().StringVar(&waitName, "name", "", "Label for logs and metrics")
	waitCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the outcome in JSON format")
	_ = waitCmd.MarkFlagRequired("terminal")
}

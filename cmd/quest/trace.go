package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/trace"
)

var traceSummaryCmd = &cobra.Command{
	Use:   "summary [trace.jsonl]",
	Short: "Summarize a trace file: event counts, runs and warnings",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceSummary,
}

func runTraceSummary(cmd *cobra.Command, args []string) error {
	events, err := trace.ReadFile(args[0])
	if err != nil {
		return err
	}
	summarize(cmd.OutOrStdout(), events)
	return nil
}

// warningEvents are surfaced line by line in a summary.
var warningEvents = []trace.EventType{
	trace.EventNodeCompleteFailed,
	trace.EventNodeUnconfirmed,
	trace.EventPuzzleIntegrity,
	trace.EventActionFailed,
	trace.EventPlaybackTimeout,
	trace.EventReconcileWarning,
}

func summarize(w io.Writer, events []trace.Event) {
	counts := map[trace.EventType]int{}
	for _, e := range events {
		counts[e.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Fprintf(w, "%d events\n", len(events))
	for _, t := range types {
		fmt.Fprintf(w, "  %-22s %d\n", t, counts[trace.EventType(t)])
	}

	runs := trace.Filter(events, trace.EventRunComplete)
	if len(runs) > 0 {
		fmt.Fprintln(w, "runs:")
		for _, e := range runs {
			fmt.Fprintf(w, "  %v %v next=%v\n", e.Data["object_id"], e.Data["status"], e.Data["next_index"])
		}
	}
	for _, wt := range warningEvents {
		for _, e := range trace.Filter(events, wt) {
			fmt.Fprintf(w, "⚠ %s %v %v\n", wt, e.Data["object_id"], e.Data["item_key"])
		}
	}
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}
	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceSummaryCmd)
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}

// Package main provides the quest binary: validate, inspect and play
// quest/v1 timelines.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/steps"
	"github.com/ormasoftchile/questline/pkg/validate"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quest",
	Short: "Timeline execution engine for map-object quests",
	Long:  "quest validates quest/v1 documents and plays object timelines against console, scripted or remote overlays.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "quest %s (%s)\n", version, commit)
	},
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [quest.yaml]",
	Short: "Validate a quest YAML file against the schema and domain rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	q, err := loadQuest(cmd.ErrOrStderr(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d objects, %d puzzles)\n", q.Name, len(q.Objects), len(q.Puzzles))
	return nil
}

// loadQuest validates path, printing warnings and errors to w.
func loadQuest(w io.Writer, path string) (*schema.Quest, error) {
	q, errs := validate.ValidateFile(path)
	var failed int
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "    at: %s\n", e.Path)
			}
			continue
		}
		failed++
		fmt.Fprintf(w, "  %d. [%s] %s\n", failed, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", e.Path)
		}
	}
	if failed > 0 {
		return nil, fmt.Errorf("validation failed with %d error(s)", failed)
	}
	return q, nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the quest/v1 JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateQuestJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// --- nodes ---

var nodesObject string

var nodesCmd = &cobra.Command{
	Use:   "nodes [quest.yaml]",
	Short: "List the runtime node ids of each timeline item",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodes,
}

func runNodes(cmd *cobra.Command, args []string) error {
	q, err := loadQuest(cmd.ErrOrStderr(), args[0])
	if err != nil {
		return err
	}
	if nodesObject != "" && q.Object(nodesObject) == nil {
		return fmt.Errorf("object %q not found", nodesObject)
	}
	out := cmd.OutOrStdout()
	for _, n := range steps.Nodes(q, nodesObject) {
		mark := ""
		if !n.Enabled {
			mark = " (disabled)"
		}
		fmt.Fprintf(out, "%s\t%s%s\n", n.NodeID, n.Type, mark)
	}
	return nil
}

// --- progress ---

var (
	progressState string
	progressJSON  bool
)

var progressCmd = &cobra.Command{
	Use:   "progress [quest.yaml]",
	Short: "Print steps-mode progress of every object from a state file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

func runProgress(cmd *cobra.Command, args []string) error {
	q, err := loadQuest(cmd.ErrOrStderr(), args[0])
	if err != nil {
		return err
	}
	var snap *runtime.Snapshot
	var solved map[string]bool
	if progressState != "" {
		st, err := runtime.ReadState(progressState)
		if err != nil {
			return err
		}
		snap, solved = st.Snapshot, st.Solved
	}
	reports := steps.Report(q, snap, solved)

	out := cmd.OutOrStdout()
	if progressJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, rep := range reports {
		marker := " "
		if rep.Current {
			marker = "▶"
		}
		fmt.Fprintf(out, "%s %s  %d/%d\n", marker, rep.ObjectID, rep.Done, rep.Total)
		if rep.Error != "" {
			fmt.Fprintf(out, "    ✗ %s\n", rep.Error)
			continue
		}
		for _, r := range rep.Rows {
			fmt.Fprintf(out, "    %s %s\n", rowGlyph(r), r.Label)
		}
	}
	return nil
}

func rowGlyph(r steps.Row) string {
	switch {
	case !r.Enabled:
		return "·"
	case r.Done:
		return "✓"
	case r.Current:
		return "→"
	default:
		return "○"
	}
}

// --- solve ---

var solveState string

var solveCmd = &cobra.Command{
	Use:   "solve [quest.yaml] [puzzle-id]",
	Short: "Mark a puzzle solved in a state file, as the puzzle screen would",
	Args:  cobra.ExactArgs(2),
	RunE:  runSolve,
}

func runSolve(cmd *cobra.Command, args []string) error {
	if solveState == "" {
		return fmt.Errorf("--state is required")
	}
	q, err := loadQuest(cmd.ErrOrStderr(), args[0])
	if err != nil {
		return err
	}
	rt := runtime.NewMemory(q)
	if err := rt.LoadState(solveState); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := rt.SolvePuzzle(args[1]); err != nil {
		return err
	}
	if err := rt.SaveState(solveState); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s solved (%d points)\n", args[1], rt.Points())
	return nil
}

// loadConfig reads path layered over the defaults, or the defaults alone.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func init() {
	nodesCmd.Flags().StringVar(&nodesObject, "object", "", "Only list nodes of this object")

	progressCmd.Flags().StringVar(&progressState, "state", "", "Path to the state JSON file")
	progressCmd.Flags().BoolVar(&progressJSON, "json", false, "Output as JSON")

	solveCmd.Flags().StringVar(&solveState, "state", "", "Path to the state JSON file (required)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(versionCmd)
}

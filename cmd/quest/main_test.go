package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/steps"
	"github.com/ormasoftchile/questline/pkg/trace"
)

const (
	questFile    = "../../testdata/quests/old-town.yaml"
	scenarioFile = "../../testdata/quests/old-town.scenario.yaml"
)

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestValidate(t *testing.T) {
	cmd, out := testCmd()
	if err := runValidate(cmd, []string{questFile}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "✓ old-town is valid (2 objects, 1 puzzles)") {
		t.Errorf("output = %q", out.String())
	}

	cmd, out = testCmd()
	if err := runValidate(cmd, []string{"../../pkg/validate/testdata/bad_type.yaml"}); err == nil {
		t.Error("expected validation error")
	}
	if !strings.Contains(out.String(), "1. [") {
		t.Errorf("errors not listed: %q", out.String())
	}
}

func TestNodes(t *testing.T) {
	nodesObject = "gate"
	defer func() { nodesObject = "" }()
	cmd, out := testCmd()
	if err := runNodes(cmd, []string{questFile}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "gate::glow\teffect") || !strings.HasSuffix(lines[3], "(disabled)") {
		t.Errorf("lines = %q", lines)
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"interacted=true", "visits=3", "name=ana"})
	if err != nil {
		t.Fatal(err)
	}
	if vars["interacted"] != true || vars["visits"] != 3.0 || vars["name"] != "ana" {
		t.Errorf("vars = %v", vars)
	}
	if _, err := parseVars([]string{"novalue"}); err == nil {
		t.Error("expected error for missing =")
	}
}

func TestPlayScriptedThenProgress(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	tracePath := filepath.Join(dir, "trace.jsonl")

	playOpts = playFlags{overlay: overlayScripted, scenario: scenarioFile, state: statePath, trace: tracePath}
	defer func() { playOpts = playFlags{} }()

	cmd, out := testCmd()
	if err := runPlay(cmd, []string{questFile}); err != nil {
		t.Fatalf("play: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "✓ quest finished with 10 points") {
		t.Errorf("output = %s", out.String())
	}

	st, err := runtime.ReadState(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if st.Snapshot.CurrentObjectID != "" {
		t.Errorf("current = %q", st.Snapshot.CurrentObjectID)
	}

	progressState, progressJSON = statePath, true
	defer func() { progressState, progressJSON = "", false }()
	cmd, out = testCmd()
	if err := runProgress(cmd, []string{questFile}); err != nil {
		t.Fatal(err)
	}
	var reps []steps.ObjectReport
	if err := json.Unmarshal(out.Bytes(), &reps); err != nil {
		t.Fatal(err)
	}
	for _, rep := range reps {
		if rep.Done != rep.Total {
			t.Errorf("%s: %d/%d", rep.ObjectID, rep.Done, rep.Total)
		}
	}

	events, err := trace.ReadFile(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(trace.Filter(events, trace.EventRunResumed)) != 1 {
		t.Errorf("expected one resumed run")
	}
	var sum bytes.Buffer
	summarize(&sum, events)
	if !strings.Contains(sum.String(), "run_complete") || !strings.Contains(sum.String(), "fountain suspended") {
		t.Errorf("summary = %s", sum.String())
	}
}

func TestSolve(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	solveState = statePath
	defer func() { solveState = "" }()

	cmd, out := testCmd()
	if err := runSolve(cmd, []string{questFile, "PZ1"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "PZ1 solved (10 points)") {
		t.Errorf("output = %q", out.String())
	}
	st, err := runtime.ReadState(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Solved["PZ1"] {
		t.Error("PZ1 not persisted as solved")
	}

	cmd, _ = testCmd()
	if err := runSolve(cmd, []string{questFile, "PZ9"}); err == nil {
		t.Error("expected error for unknown puzzle")
	}
}

func TestSteps_RejectsConsole(t *testing.T) {
	panelOpts = playFlags{overlay: overlayConsole}
	defer func() { panelOpts = playFlags{} }()
	cmd, _ := testCmd()
	if err := runSteps(cmd, []string{questFile}); err == nil {
		t.Error("expected error for console overlays")
	}
}

func TestDiagram(t *testing.T) {
	defer func() { diagramFormat = "ascii" }()
	for format, want := range map[string]string{"ascii": "(■) finish", "mermaid": "flowchart TD"} {
		diagramFormat = format
		cmd, out := testCmd()
		if err := runDiagram(cmd, []string{questFile}); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !strings.Contains(out.String(), want) {
			t.Errorf("%s output = %q", format, out.String())
		}
	}
}

func TestPlayRecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	recorded := filepath.Join(dir, "recorded.yaml")
	tracePath := filepath.Join(dir, "trace.jsonl")
	defer func() { playOpts = playFlags{} }()

	playOpts = playFlags{overlay: overlayScripted, scenario: scenarioFile, record: recorded, trace: tracePath}
	cmd, out := testCmd()
	if err := runPlay(cmd, []string{questFile}); err != nil {
		t.Fatalf("play: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "scenario written to "+recorded) {
		t.Errorf("output = %s", out.String())
	}

	sc, err := overlay.LoadScenario(recorded)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Steps["photo"].Text != "gate.jpg" {
		t.Errorf("photo = %+v", sc.Steps["photo"])
	}
	if _, ok := sc.Solve["PZ1"]; !ok {
		t.Errorf("solve = %v", sc.Solve)
	}

	playOpts = playFlags{overlay: overlayScripted, scenario: recorded, trace: tracePath}
	cmd, out = testCmd()
	if err := runPlay(cmd, []string{questFile}); err != nil {
		t.Fatalf("replay: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "✓ quest finished with 10 points") {
		t.Errorf("replay output = %s", out.String())
	}

	// Both runs appended to one trace; the chain must still hold.
	cmd, out = testCmd()
	if err := runTraceVerify(cmd, []string{tracePath}); err != nil {
		t.Fatalf("verify: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "no breaks") {
		t.Errorf("verify output = %s", out.String())
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/diagram"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/session"
	"github.com/ormasoftchile/questline/pkg/steps"
	"github.com/ormasoftchile/questline/pkg/validate"
)

// playTimeout bounds one quest/play call.
const playTimeout = 2 * time.Minute

// HandleValidate implements the quest/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	q, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d objects, %d puzzles)", q.Name, len(q.Objects), len(q.Puzzles))
	if warnings := formatWarnings(errs); warnings != "" {
		msg += "\nwarnings: " + warnings
	}
	return textResult(msg), nil
}

// HandleSchema implements the quest/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateQuestJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleNodes implements the quest/nodes MCP tool.
func HandleNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, res := loadQuest(args)
	if res != nil {
		return res, nil
	}
	object, _ := args["object"].(string)
	if object != "" && q.Object(object) == nil {
		return errorResult(fmt.Sprintf("object %q not found", object)), nil
	}
	return jsonResult(steps.Nodes(q, object), false), nil
}

// HandleDiagram implements the quest/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, res := loadQuest(args)
	if res != nil {
		return res, nil
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = string(diagram.FormatMermaid)
	}
	out, err := diagram.Generate(q, diagram.Format(format))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleProgress implements the quest/progress MCP tool.
func HandleProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	q, res := loadQuest(args)
	if res != nil {
		return res, nil
	}
	var snap *runtime.Snapshot
	var solved map[string]bool
	if statePath, _ := args["state"].(string); statePath != "" {
		st, err := runtime.ReadState(statePath)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		snap, solved = st.Snapshot, st.Solved
	}
	return jsonResult(steps.Report(q, snap, solved), false), nil
}

// HandlePlay implements the quest/play MCP tool. Overlays are scripted,
// so the call never waits on a person.
func HandlePlay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	var sc *overlay.Scenario
	if scenarioPath, _ := args["scenario"].(string); scenarioPath != "" {
		var err error
		if sc, err = overlay.LoadScenario(scenarioPath); err != nil {
			return errorResult(err.Error()), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, playTimeout)
	defer cancel()

	cfg := config.Default()
	q, rt, err := session.Load(path, cfg)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	host := overlay.NewScripted(sc)
	rt.SetNavigator(host.PuzzleNavigator(ctx, rt.SolvePuzzle))
	s, err := session.New(q, rt, cfg, session.Overlays{Host: host, Audio: host, Effects: host}, nil)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	start := time.Now()
	results, playErr := s.Autoplay(ctx)
	cancel()
	s.Close()

	response := map[string]any{
		"quest":    q.Name,
		"duration": time.Since(start).String(),
		"results":  results,
		"points":   rt.Points(),
		"finished": rt.Snapshot().CurrentObjectID == "",
		"log":      host.Log(),
	}
	if playErr != nil {
		response["error"] = playErr.Error()
	}
	return jsonResult(response, playErr != nil), nil
}

func loadQuest(args map[string]any) (*schema.Quest, *mcp.CallToolResult) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, errorResult("path argument is required")
	}
	q, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return nil, errorResult(formatErrors(errs))
	}
	return q, nil
}

func formatErrors(errs []*validate.ValidationError) string {
	return joinSeverity(errs, "error")
}

func formatWarnings(errs []*validate.ValidationError) string {
	return joinSeverity(errs, "warning")
}

func joinSeverity(errs []*validate.ValidationError, severity string) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == severity {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func jsonResult(v any, isErr bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}

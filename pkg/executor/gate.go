package executor

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// Gate decides whether a run may start, e.g. only after the player's
// first interaction.
type Gate interface {
	Allow(ctx context.Context, obj *schema.Object) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, obj *schema.Object) bool

// Allow calls f.
func (f GateFunc) Allow(ctx context.Context, obj *schema.Object) bool { return f(ctx, obj) }

// ExprGate allows a run when a boolean expression holds. The expression
// sees objectId, version and vars, e.g. `vars.interacted == true`.
type ExprGate struct {
	source  string
	program *vm.Program

	mu   sync.Mutex
	vars map[string]any
}

// NewExprGate compiles source. An empty source always allows.
func NewExprGate(source string) (*ExprGate, error) {
	g := &ExprGate{source: strings.TrimSpace(source), vars: map[string]any{}}
	if g.source == "" {
		return g, nil
	}
	program, err := expr.Compile(g.source, expr.Env(gateEnv(nil, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile gate %q: %w", g.source, err)
	}
	g.program = program
	return g, nil
}

// Set records a variable visible to the expression as vars.<name>.
func (g *ExprGate) Set(name string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vars[name] = value
}

// Allow evaluates the expression for obj. Evaluation errors deny.
func (g *ExprGate) Allow(_ context.Context, obj *schema.Object) bool {
	if g.program == nil {
		return true
	}
	g.mu.Lock()
	vars := maps.Clone(g.vars)
	g.mu.Unlock()

	out, err := expr.Run(g.program, gateEnv(obj, vars))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func gateEnv(obj *schema.Object, vars map[string]any) map[string]any {
	env := map[string]any{"objectId": "", "version": 0, "vars": vars}
	if vars == nil {
		env["vars"] = map[string]any{}
	}
	if obj != nil {
		env["objectId"] = obj.ID
		env["version"] = obj.Timeline.Version
	}
	return env
}

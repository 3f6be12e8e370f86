package planner

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
)

// goalMatcher evaluates a goal condition against nodes. The structural
// part (type and property equality) always applies; an optional CEL
// expression refines it further.
type goalMatcher struct {
	cond    *apptype.GoalCondition
	reg     *typereg.Registry
	program cel.Program
}

func newGoalMatcher(cond *apptype.GoalCondition, reg *typereg.Registry) (*goalMatcher, error) {
	m := &goalMatcher{cond: cond, reg: reg}
	if cond.Expr == "" {
		return m, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("ancestors", cel.ListType(cel.StringType)),
		cel.Variable("properties", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("confidence", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build goal expression env: %w", err)
	}
	ast, issues := env.Compile(cond.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid goal expression %q: %w", cond.Expr, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to compile goal expression %q: %w", cond.Expr, err)
	}
	m.program = program
	return m, nil
}

func (m *goalMatcher) matches(n *apptype.Node) (bool, error) {
	if n.IsTypeDefinition {
		return false, nil
	}
	if m.cond.Type != "" && !m.reg.IsA(n, m.cond.Type) {
		return false, nil
	}
	for k, want := range m.cond.Properties {
		got, ok := n.Properties[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}
	if m.program == nil {
		return true, nil
	}

	props := n.Properties
	if props == nil {
		props = map[string]any{}
	}
	out, _, err := m.program.Eval(map[string]any{
		"name":       n.Name,
		"type":       n.Type,
		"ancestors":  n.Ancestors,
		"properties": props,
		"confidence": n.Confidence,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate goal expression against node %q: %w", n.ID, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("goal expression %q is not boolean", m.cond.Expr)
	}
	return ok, nil
}

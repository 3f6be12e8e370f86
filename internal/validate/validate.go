// Package validate implements the shape gate every graph write passes
// through. Validation is pure: it has no side effects and can be reused
// on the read path for integrity audits.
package validate

import (
	"strings"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/typereg"
)

// Node checks a candidate node against the required-shape rules.
// Returns nil when the node is admissible, or a *ShapeError listing
// every failed field.
func Node(n *apptype.Node, reg *typereg.Registry) error {
	var fields []apptype.FieldError
	if n == nil {
		return apptype.NewShapeError("node", apptype.FieldError{Field: "node", Reason: "must not be nil"})
	}
	if strings.TrimSpace(n.ID) == "" {
		fields = append(fields, apptype.FieldError{Field: "id", Reason: "must be a non-empty string"})
	}
	if strings.TrimSpace(n.Name) == "" {
		fields = append(fields, apptype.FieldError{Field: "name", Reason: "must be a non-empty string"})
	}
	if strings.TrimSpace(n.Type) == "" {
		fields = append(fields, apptype.FieldError{Field: "type", Reason: "must be a non-empty string"})
	} else if !reg.Known(n.Type) {
		fields = append(fields, apptype.FieldError{Field: "type", Reason: "not registered in the type registry"})
	}
	if n.Ancestors == nil {
		fields = append(fields, apptype.FieldError{Field: "ancestors", Reason: "must be present (may be empty for roots)"})
	} else if reg.Known(n.Type) {
		want, err := reg.ResolveAncestors(n.Type)
		if err == nil && !equalChains(n.Ancestors, want) {
			fields = append(fields, apptype.FieldError{Field: "ancestors", Reason: "does not match the registered IS_A chain"})
		}
	}
	if n.Status != "" && !apptype.ValidTier(string(n.Status)) {
		fields = append(fields, apptype.FieldError{Field: "status", Reason: "must be ephemeral, short_term or canonical"})
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		fields = append(fields, apptype.FieldError{Field: "confidence", Reason: "must be in [0, 1]"})
	}
	if len(fields) > 0 {
		return apptype.NewShapeError("node "+n.Name, fields...)
	}
	return nil
}

// Edge checks a candidate edge. Endpoint existence is not checked here;
// that is the ingestion pipeline's resolution step.
func Edge(e *apptype.Edge, reg *typereg.Registry) error {
	var fields []apptype.FieldError
	if e == nil {
		return apptype.NewShapeError("edge", apptype.FieldError{Field: "edge", Reason: "must not be nil"})
	}
	if strings.TrimSpace(e.ID) == "" {
		fields = append(fields, apptype.FieldError{Field: "id", Reason: "must be a non-empty string"})
	}
	if strings.TrimSpace(e.Source) == "" {
		fields = append(fields, apptype.FieldError{Field: "source", Reason: "must be a non-empty string"})
	}
	if strings.TrimSpace(e.Target) == "" {
		fields = append(fields, apptype.FieldError{Field: "target", Reason: "must be a non-empty string"})
	}
	if strings.TrimSpace(e.Relation) == "" {
		fields = append(fields, apptype.FieldError{Field: "relation", Reason: "must be a non-empty string"})
	}
	if e.Status != "" && !apptype.ValidTier(string(e.Status)) {
		fields = append(fields, apptype.FieldError{Field: "status", Reason: "must be ephemeral, short_term or canonical"})
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		fields = append(fields, apptype.FieldError{Field: "confidence", Reason: "must be in [0, 1]"})
	}
	if len(fields) > 0 {
		return apptype.NewShapeError("edge "+e.Source+"->"+e.Target, fields...)
	}
	return nil
}

func equalChains(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

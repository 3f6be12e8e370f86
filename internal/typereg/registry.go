package typereg

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
)

// Bootstrap type names. The set is seeded exactly once per registry and
// never removed.
const (
	RootType     = "type"     // self-referential meta-type
	RootRelation = "relation" // root of all edge types
	RootThing    = "thing"    // root of concrete types
	RootConcept  = "concept"  // root of abstract types
)

// Registry holds the runtime type hierarchy and resolves ancestor chains.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parents map[string]string // type name -> immediate parent; roots map to ""
}

// New returns a Registry with the bootstrap hierarchy seeded.
func New() *Registry {
	r := &Registry{parents: make(map[string]string)}
	r.SeedBootstrap()
	return r
}

// SeedBootstrap installs the bootstrap types and their default subtypes.
// Re-seeding is a no-op: existing entries are never overwritten.
func (r *Registry) SeedBootstrap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	seed := map[string]string{
		RootType:     "",
		RootRelation: "",
		RootThing:    "",
		RootConcept:  "",
		"entity":     RootThing,
		"state":      RootThing,
		"process":    RootThing,
		"is_a":       RootRelation,
		"causes":     RootRelation,
		"leads_to":   "causes",
		"enables":    "causes",
	}
	for name, parent := range seed {
		if _, ok := r.parents[name]; !ok {
			r.parents[name] = parent
		}
	}
}

// Register adds a type under the given parent. Registering an existing
// name with the same parent is a no-op; with a different parent it
// re-parents the type (the caller is responsible for refreshing stored
// ancestor chains afterwards).
func (r *Registry) Register(name, parent string) error {
	if name == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parents[parent]; !ok {
		return fmt.Errorf("parent %q: %w", parent, apptype.ErrUnknownType)
	}
	// Reject re-parenting that would introduce a cycle.
	for p := parent; p != ""; {
		if p == name {
			return fmt.Errorf("registering %q under %q would create a cycle", name, parent)
		}
		p = r.parents[p]
	}
	r.parents[name] = parent
	return nil
}

// Known reports whether the type name was registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parents[name]
	return ok
}

// ResolveAncestors walks the IS_A chain from the type's immediate parent
// to its bootstrap root, in order. Roots resolve to an empty list.
func (r *Registry) ResolveAncestors(typeName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.parents[typeName]; !ok {
		return nil, fmt.Errorf("type %q: %w", typeName, apptype.ErrUnknownType)
	}
	chain := []string{}
	for p := r.parents[typeName]; p != ""; p = r.parents[p] {
		chain = append(chain, p)
	}
	return chain, nil
}

// IsA reports whether the node's type is, or descends from, candidate.
func (r *Registry) IsA(node *apptype.Node, candidate string) bool {
	if node == nil {
		return false
	}
	if node.Type == candidate {
		return true
	}
	for _, a := range node.Ancestors {
		if a == candidate {
			return true
		}
	}
	return false
}

// IsCausalRelation reports whether the relation type belongs to the
// CAUSES class: either "causes" itself or registered beneath it.
func (r *Registry) IsCausalRelation(relation string) bool {
	if relation == "causes" {
		return true
	}
	chain, err := r.ResolveAncestors(relation)
	if err != nil {
		return false
	}
	for _, a := range chain {
		if a == "causes" {
			return true
		}
	}
	return false
}

// CollectionFor maps a node type to the vector collection its embeddings
// belong to. Unregistered types fall back to the entity collection.
func (r *Registry) CollectionFor(typeName string) apptype.Collection {
	probe := &apptype.Node{Type: typeName}
	if chain, err := r.ResolveAncestors(typeName); err == nil {
		probe.Ancestors = chain
	}
	switch {
	case r.IsA(probe, RootRelation):
		return apptype.CollectionEdge
	case r.IsA(probe, "state"):
		return apptype.CollectionState
	case r.IsA(probe, "process"):
		return apptype.CollectionProcess
	case r.IsA(probe, RootConcept):
		return apptype.CollectionConcept
	default:
		return apptype.CollectionEntity
	}
}

// List returns all registered type names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parents))
	for n := range r.parents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Package resolver orders the plugins of a desired state file into batches
// that can be installed without violating their dependencies.
package resolver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"ocm.software/open-component-model/bindings/go/dag"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/spec"
)

// Plan is the installation order of a set of plugins.
type Plan struct {
	// Batches are installed one after the other. The members of a batch do
	// not depend on each other and may be installed concurrently.
	Batches [][]string
	// Missing maps a plugin to the dependencies that are not declared.
	Missing map[string][]string
}

// CycleError names the plugin whose dependency closed a cycle.
// It wraps the *dag.CycleError of the graph, or dag.ErrSelfReference if a
// plugin depends on itself.
type CycleError struct {
	At    string
	Cycle []string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at %s: %s", e.At, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Resolve builds the dependency graph of plugins and computes the batches.
// A dependency cycle fails with a *CycleError. Dependencies on plugins
// that are not declared do not fail resolution and are listed in
// Plan.Missing instead.
func Resolve(plugins []spec.Plugin, opts spec.InstallOptions) (*Plan, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = spec.DefaultMaxConcurrent
	}

	index := make(map[string]int, len(plugins))
	// an edge P -> D means that P depends on D
	graph := dag.NewDirectedAcyclicGraph[string]()
	for i, p := range plugins {
		if err := graph.AddVertex(p.Name); err != nil {
			return nil, fmt.Errorf("failed to add plugin %s: %w", p.Name, err)
		}
		index[p.Name] = i
	}

	plan := &Plan{Missing: map[string][]string{}}
	for _, p := range plugins {
		for _, dep := range p.Dependencies {
			if !graph.Contains(dep) {
				if !slices.Contains(plan.Missing[p.Name], dep) {
					plan.Missing[p.Name] = append(plan.Missing[p.Name], dep)
				}
				continue
			}
			if err := graph.AddEdge(p.Name, dep); err != nil {
				return nil, cycleError(p.Name, err)
			}
		}
	}

	// reversed, an edge D -> P means that P waits for D
	reversed, err := graph.Reverse()
	if err != nil {
		return nil, fmt.Errorf("failed to reverse dependency graph: %w", err)
	}

	byDeclaration := func(a, b string) int {
		return index[a] - index[b]
	}
	for _, level := range layers(reversed) {
		slices.SortFunc(level, byDeclaration)
		for batch := range slices.Chunk(level, maxConcurrent) {
			plan.Batches = append(plan.Batches, batch)
		}
	}

	return plan, nil
}

func cycleError(at string, err error) error {
	var cerr *dag.CycleError
	switch {
	case errors.Is(err, dag.ErrSelfReference):
		return &CycleError{At: at, Cycle: []string{at, at}, Err: err}
	case errors.As(err, &cerr):
		return &CycleError{At: at, Cycle: cerr.Cycle, Err: err}
	default:
		return fmt.Errorf("failed to add dependencies of %s: %w", at, err)
	}
}

// layers groups the vertices of an acyclic graph by their longest distance
// from a root. Every vertex comes after all of its predecessors.
func layers(graph *dag.DirectedAcyclicGraph[string]) [][]string {
	inDegree := make(map[string]int, len(graph.Vertices))
	for id, v := range graph.Vertices {
		inDegree[id] = v.InDegree
	}

	var levels [][]string
	current := graph.Roots()
	for len(current) > 0 {
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for successor := range graph.Vertices[id].Edges {
				inDegree[successor]--
				if inDegree[successor] == 0 {
					next = append(next, successor)
				}
			}
		}
		current = next
	}
	return levels
}

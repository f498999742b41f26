// Package dag provides the directed acyclic graph of statement dependencies.
// Edges run from a CTE-defining statement to the statements that consume the
// name. The graph backs the chunker's dependency-containment guarantee and
// the structural checks that treat a cut dependency as an internal error.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/helios-labs/helios/internal/core"
)

// Graph is a directed acyclic graph over statement indices.
type Graph struct {
	nodes   map[int]bool
	edges   map[int][]int // definer -> consumers
	parents map[int][]int // consumer -> definers
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[int]bool),
		edges:   make(map[int][]int),
		parents: make(map[int][]int),
	}
}

// Build constructs the dependency graph for an ordered statement sequence.
// For every CTE reference, the definer is the nearest earlier statement in
// the same block that binds the name. References without a resolvable
// definer are ignored; the splitter only records names it saw bound.
func Build(stmts []core.Statement) *Graph {
	g := NewGraph()

	// block -> lowercase name -> defining statement index (latest wins)
	definers := make(map[int]map[string]int)
	for _, st := range stmts {
		g.AddNode(st.Index)
		byName := definers[st.Block]
		if byName == nil {
			byName = make(map[string]int)
			definers[st.Block] = byName
		}

		for _, ref := range st.CTERefs {
			if def, ok := byName[strings.ToLower(ref)]; ok {
				g.AddEdge(def, st.Index)
			}
		}
		// Bind after resolving refs so a shadowing redefinition does not
		// point a statement at itself.
		for _, name := range st.CTENames {
			byName[strings.ToLower(name)] = st.Index
		}
	}
	return g
}

// AddNode adds a statement index to the graph.
func (g *Graph) AddNode(id int) {
	if !g.nodes[id] {
		g.nodes[id] = true
		g.edges[id] = []int{}
		g.parents[id] = []int{}
	}
}

// AddEdge records that consumer depends on definer.
func (g *Graph) AddEdge(definer, consumer int) {
	g.AddNode(definer)
	g.AddNode(consumer)
	if !contains(g.edges[definer], consumer) {
		g.edges[definer] = append(g.edges[definer], consumer)
	}
	if !contains(g.parents[consumer], definer) {
		g.parents[consumer] = append(g.parents[consumer], definer)
	}
}

// Definers returns the statements the given statement depends on, sorted.
func (g *Graph) Definers(id int) []int {
	out := append([]int(nil), g.parents[id]...)
	sort.Ints(out)
	return out
}

// Consumers returns the statements that depend on the given statement,
// sorted.
func (g *Graph) Consumers(id int) []int {
	out := append([]int(nil), g.edges[id]...)
	sort.Ints(out)
	return out
}

// NodeCount returns the number of statements in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of dependency edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, c := range g.edges {
		n += len(c)
	}
	return n
}

// VerifyBackward checks the structural property the chunker relies on:
// every dependency points backward in statement order. SQL binds a CTE
// before use, so a forward edge means the graph was built from corrupt
// input and the run must abort.
func (g *Graph) VerifyBackward() error {
	for consumer, defs := range g.parents {
		for _, d := range defs {
			if d >= consumer {
				return fmt.Errorf("dependency from statement %d to %d points forward", consumer, d)
			}
		}
	}
	return nil
}

// VerifyContainment checks that for every edge both endpoints landed in the
// same chunk. assign maps statement index to chunk position. A violation is
// a chunker defect, not a content-level failure.
func (g *Graph) VerifyContainment(assign map[int]int) error {
	for definer, consumers := range g.edges {
		for _, c := range consumers {
			if assign[definer] != assign[c] {
				return fmt.Errorf("statement %d and its CTE definer %d were placed in different chunks", c, definer)
			}
		}
	}
	return nil
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

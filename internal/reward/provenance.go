package reward

import (
	"time"
)

// Edge records that an agent was forked from a parent agent. Each
// agent has at most one parent, so the edges form a forest.
type Edge struct {
	Child    string
	Parent   string
	ForkedAt time.Time
}

// Graph is the provenance forest consulted by the royalty cascade.
type Graph struct {
	parents map[string]Edge
}

// NewGraph builds a graph from a set of edges. Registration-time cycle
// rejection happens outside the core; the cascade bounds traversal
// depth regardless, so a malformed graph cannot loop it.
func NewGraph(edges ...Edge) *Graph {
	g := &Graph{parents: make(map[string]Edge, len(edges))}
	for _, e := range edges {
		g.parents[e.Child] = e
	}
	return g
}

// Lineage walks upward from agent, collecting at most maxDepth
// ancestors. An edge forked before cutoff ends the walk: that edge and
// everything above it is excluded from royalties.
func (g *Graph) Lineage(agent string, maxDepth int, cutoff time.Time) []string {
	if g == nil || maxDepth <= 0 {
		return nil
	}

	var lineage []string
	current := agent
	for i := 0; i < maxDepth; i++ {
		edge, ok := g.parents[current]
		if !ok {
			break
		}
		if edge.ForkedAt.Before(cutoff) {
			break
		}
		lineage = append(lineage, edge.Parent)
		current = edge.Parent
	}
	return lineage
}

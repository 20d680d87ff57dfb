package engine

import (
	"sort"

	"github.com/nervemind/nervemind/workflow"
)

// plan is the precomputed evaluation order of one run: Kahn layering with
// longest-path layer assignment, pruned of cycle-breaking edges. Construct
// runners slice it into dominated subgraphs. Plans are immutable once built
// and safe to share across the goroutines of a run.
type plan struct {
	nodes   map[string]workflow.Node
	declIdx map[string]int
	layer   map[string]int
	// order lists node ids by (layer, declaration index). It is the
	// coordinator's dispatch order.
	order []string
	// incoming and outgoing are adjacency lists in connection declaration
	// order, with discarded edges removed.
	incoming map[string][]workflow.Connection
	outgoing map[string][]workflow.Connection
	// discarded holds the edges removed to break true cycles, in the order
	// they were discarded.
	discarded []workflow.Connection
}

// newPlan builds the evaluation plan. A true cycle never prevents planning:
// the first blocking connection in declaration order is discarded, repeatedly,
// until every node is placed. Each node appears in order exactly once.
func newPlan(wf *workflow.Workflow) *plan {
	p := &plan{
		nodes:    make(map[string]workflow.Node, len(wf.Nodes)),
		declIdx:  make(map[string]int, len(wf.Nodes)),
		layer:    make(map[string]int, len(wf.Nodes)),
		incoming: make(map[string][]workflow.Connection),
		outgoing: make(map[string][]workflow.Connection),
	}
	for i, n := range wf.Nodes {
		p.nodes[n.ID] = n
		p.declIdx[n.ID] = i
		p.layer[n.ID] = 0
	}

	// Edges referencing unknown nodes or connecting a node to itself carry no
	// scheduling information; drop them up front.
	conns := make([]workflow.Connection, 0, len(wf.Connections))
	for _, c := range wf.Connections {
		if c.SourceNodeID == c.TargetNodeID {
			continue
		}
		if _, ok := p.nodes[c.SourceNodeID]; !ok {
			continue
		}
		if _, ok := p.nodes[c.TargetNodeID]; !ok {
			continue
		}
		conns = append(conns, c)
	}

	active := make([]bool, len(conns))
	indeg := make(map[string]int, len(wf.Nodes))
	for i, c := range conns {
		active[i] = true
		indeg[c.TargetNodeID]++
	}

	var queue []string
	for _, n := range wf.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	placed := make(map[string]bool, len(wf.Nodes))
	for count := 0; count < len(wf.Nodes); {
		if len(queue) == 0 {
			// Every unplaced node sits on a cycle. Discard the first active
			// edge between two unplaced nodes and retry.
			found := false
			for i, c := range conns {
				if !active[i] || placed[c.SourceNodeID] || placed[c.TargetNodeID] {
					continue
				}
				active[i] = false
				p.discarded = append(p.discarded, c)
				indeg[c.TargetNodeID]--
				if indeg[c.TargetNodeID] == 0 {
					queue = append(queue, c.TargetNodeID)
				}
				found = true
				break
			}
			if !found {
				break
			}
			continue
		}
		id := queue[0]
		queue = queue[1:]
		placed[id] = true
		count++
		for i, c := range conns {
			if !active[i] || c.SourceNodeID != id {
				continue
			}
			t := c.TargetNodeID
			if l := p.layer[id] + 1; l > p.layer[t] {
				p.layer[t] = l
			}
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	for i, c := range conns {
		if !active[i] {
			continue
		}
		p.incoming[c.TargetNodeID] = append(p.incoming[c.TargetNodeID], c)
		p.outgoing[c.SourceNodeID] = append(p.outgoing[c.SourceNodeID], c)
	}

	p.order = make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		p.order = append(p.order, n.ID)
	}
	sort.SliceStable(p.order, func(i, j int) bool {
		a, b := p.order[i], p.order[j]
		if p.layer[a] != p.layer[b] {
			return p.layer[a] < p.layer[b]
		}
		return p.declIdx[a] < p.declIdx[b]
	})
	return p
}

// entries returns the ids with no incoming edges, in plan order.
func (p *plan) entries() []string {
	var out []string
	for _, id := range p.order {
		if len(p.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// targets returns the distinct successor ids of the node over edges whose
// source handle satisfies match, in declaration order.
func (p *plan) targets(id string, match func(handle string) bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range p.outgoing[id] {
		if !match(c.SourceOutput) || seen[c.TargetNodeID] {
			continue
		}
		seen[c.TargetNodeID] = true
		out = append(out, c.TargetNodeID)
	}
	return out
}

// reachable walks the pruned edges from roots and returns the visited set,
// roots included. A blocked id is never entered; a non-nil within set
// restricts the walk to its members.
func (p *plan) reachable(roots []string, blocked string, within map[string]bool) map[string]bool {
	seen := make(map[string]bool, len(roots))
	stack := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == blocked || (within != nil && !within[r]) {
			continue
		}
		stack = append(stack, r)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range p.outgoing[id] {
			t := c.TargetNodeID
			if t == blocked || seen[t] {
				continue
			}
			if within != nil && !within[t] {
				continue
			}
			stack = append(stack, t)
		}
	}
	return seen
}

// scope returns the subgraph dominated by the construct node: the nodes every
// entry path reaches only through it. Plan order, the construct excluded.
func (p *plan) scope(id string) []string {
	roots := make([]string, 0, len(p.outgoing[id]))
	for _, c := range p.outgoing[id] {
		roots = append(roots, c.TargetNodeID)
	}
	reach := p.reachable(roots, id, nil)

	var entryRoots []string
	for _, nid := range p.order {
		if nid != id && len(p.incoming[nid]) == 0 {
			entryRoots = append(entryRoots, nid)
		}
	}
	outside := p.reachable(entryRoots, id, nil)

	var out []string
	for _, nid := range p.order {
		if nid != id && reach[nid] && !outside[nid] {
			out = append(out, nid)
		}
	}
	return out
}

// exclusive returns the scope nodes reachable from roots but not from any of
// the other root groups, in plan order. The shared remainder is join
// territory: it runs after the construct completes, through the outer pass.
func (p *plan) exclusive(scope []string, roots []string, others [][]string) []string {
	within := make(map[string]bool, len(scope))
	for _, id := range scope {
		within[id] = true
	}
	mine := p.reachable(roots, "", within)
	for _, group := range others {
		for id := range p.reachable(group, "", within) {
			delete(mine, id)
		}
	}
	out := make([]string, 0, len(mine))
	for _, id := range p.order {
		if mine[id] {
			out = append(out, id)
		}
	}
	return out
}

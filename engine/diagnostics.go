package engine

import (
	"fmt"
	"sort"

	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Diagnostic is a non-fatal finding from submit-time workflow validation.
// Diagnostics warn; they never refuse a run. A node whose required
// configuration is genuinely missing still fails at dispatch.
type Diagnostic struct {
	// NodeID scopes node-level findings. Empty for workflow-level ones.
	NodeID string
	// Field names the offending parameter for executor findings.
	Field string
	// Message describes the finding.
	Message string
}

// String renders the diagnostic for logs.
func (d Diagnostic) String() string {
	switch {
	case d.NodeID == "":
		return d.Message
	case d.Field == "":
		return fmt.Sprintf("node %s: %s", d.NodeID, d.Message)
	default:
		return fmt.Sprintf("node %s: %s: %s", d.NodeID, d.Field, d.Message)
	}
}

// Diagnose validates the workflow against the current registry and returns
// the findings: missing trigger entry, disconnected nodes, and per-executor
// parameter problems.
func (e *Engine) Diagnose(wf *workflow.Workflow) []Diagnostic {
	return diagnose(wf, e.registry.Snapshot())
}

func diagnose(wf *workflow.Workflow, snap *node.Snapshot) []Diagnostic {
	var out []Diagnostic

	trigger := false
	for _, n := range wf.Nodes {
		exec, err := snap.Resolve(n.Type)
		if err != nil {
			continue
		}
		if exec.Info().Category == node.CategoryTrigger {
			trigger = true
			break
		}
	}
	if !trigger {
		out = append(out, Diagnostic{Message: "no trigger node"})
	}

	if len(wf.Nodes) > 1 {
		connected := make(map[string]bool, len(wf.Nodes))
		for _, c := range wf.Connections {
			connected[c.SourceNodeID] = true
			connected[c.TargetNodeID] = true
		}
		for _, n := range wf.Nodes {
			if !connected[n.ID] {
				out = append(out, Diagnostic{NodeID: n.ID, Message: "disconnected node"})
			}
		}
	}

	for _, n := range wf.Nodes {
		problems := snap.Validate(n.Type, n.Parameters)
		fields := make([]string, 0, len(problems))
		for f := range problems {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			out = append(out, Diagnostic{NodeID: n.ID, Field: f, Message: problems[f]})
		}
	}
	return out
}

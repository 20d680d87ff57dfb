package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/workflow"
)

func TestStatusMachine(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusWaiting, true},
		{StatusWaiting, StatusRunning, true},
		{StatusPending, StatusSuccess, false},
		{StatusSuccess, StatusRunning, false},
		{StatusFailed, StatusSuccess, false},
		{StatusWaiting, StatusSuccess, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionStampsFinishedAt(t *testing.T) {
	ex := &Execution{ID: "e1", Status: StatusPending}
	require.NoError(t, ex.Transition(StatusRunning))
	assert.True(t, ex.FinishedAt.IsZero())
	require.NoError(t, ex.Transition(StatusSuccess))
	assert.False(t, ex.FinishedAt.IsZero())
	require.Error(t, ex.Transition(StatusRunning))
}

func TestTerminalAndActive(t *testing.T) {
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusRunning.Active())
	assert.True(t, StatusWaiting.Active())
	assert.False(t, StatusPending.Active())
}

func TestContextVariablesAndOutputs(t *testing.T) {
	wf := &workflow.Workflow{ID: "wf1"}
	ec := NewContext("e1", wf, workflow.TriggerManual, map[string]any{"k": "v"}, map[string]any{"seeded": 1}, nil)

	v, ok := ec.Variable("seeded")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	ec.SetVariable("name", "Alice")
	snap := ec.Variables()
	assert.Equal(t, "Alice", snap["name"])

	// Snapshots are copies, not views.
	snap["name"] = "Bob"
	v, _ = ec.Variable("name")
	assert.Equal(t, "Alice", v)

	ec.SetOutput("n1", map[string]any{"out": true})
	out, ok := ec.Output("n1")
	require.True(t, ok)
	assert.Equal(t, true, out["out"])
	_, ok = ec.Output("missing")
	assert.False(t, ok)
}

func TestContextCancellation(t *testing.T) {
	ec := NewContext("e1", &workflow.Workflow{}, workflow.TriggerManual, nil, nil, nil)
	assert.False(t, ec.Cancelled())
	ec.Cancel()
	assert.True(t, ec.Cancelled())
}

func TestChildContext(t *testing.T) {
	parent := NewContext("e1", &workflow.Workflow{ID: "parent"}, workflow.TriggerManual, nil, nil, nil)
	parent.Chain = []string{"parent"}
	child := parent.Child("e2", &workflow.Workflow{ID: "sub"}, map[string]any{"x": 1}, nil)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, []string{"parent", "sub"}, child.Chain)
	assert.False(t, child.Cancelled())

	parent.Cancel()
	grandchild := parent.Child("e3", &workflow.Workflow{ID: "sub2"}, nil, nil)
	assert.True(t, grandchild.Cancelled())
}

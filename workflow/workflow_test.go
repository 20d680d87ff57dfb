package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionNormalizesHandles(t *testing.T) {
	c, err := NewConnection("c1", "a", "", "b", "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultHandle, c.SourceOutput)
	assert.Equal(t, DefaultHandle, c.TargetInput)
}

func TestNewConnectionRefusesSelfLoop(t *testing.T) {
	_, err := NewConnection("c1", "a", "main", "a", "main")
	require.ErrorIs(t, err, ErrSelfConnection)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		wf      Workflow
		wantErr string
	}{
		{
			name: "valid",
			wf: Workflow{
				Nodes: []Node{NewNode("a", "manualTrigger", "Start", nil), NewNode("b", "set", "Set", nil)},
				Connections: []Connection{
					{ID: "c1", SourceNodeID: "a", SourceOutput: "main", TargetNodeID: "b", TargetInput: "main"},
				},
			},
		},
		{
			name:    "blank node id",
			wf:      Workflow{Nodes: []Node{NewNode("  ", "set", "Set", nil)}},
			wantErr: "id is blank",
		},
		{
			name:    "blank node type",
			wf:      Workflow{Nodes: []Node{NewNode("a", "", "Set", nil)}},
			wantErr: "type is blank",
		},
		{
			name:    "duplicate node id",
			wf:      Workflow{Nodes: []Node{NewNode("a", "set", "", nil), NewNode("a", "set", "", nil)}},
			wantErr: "not unique",
		},
		{
			name: "unknown connection target",
			wf: Workflow{
				Nodes:       []Node{NewNode("a", "set", "", nil)},
				Connections: []Connection{{ID: "c1", SourceNodeID: "a", TargetNodeID: "ghost"}},
			},
			wantErr: "unknown target node",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.wf.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEntryNodes(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			NewNode("t", "manualTrigger", "", nil),
			NewNode("a", "set", "", nil),
			NewNode("isolated", "set", "", nil),
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "t", SourceOutput: "main", TargetNodeID: "a", TargetInput: "main"},
		},
	}
	entries := wf.EntryNodes()
	require.Len(t, entries, 2)
	assert.Equal(t, "t", entries[0].ID)
	assert.Equal(t, "isolated", entries[1].ID)
}

func TestIncomingPreservesDeclarationOrder(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{NewNode("a", "set", "", nil), NewNode("b", "set", "", nil), NewNode("c", "merge", "", nil)},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "a", SourceOutput: "main", TargetNodeID: "c", TargetInput: "main"},
			{ID: "c2", SourceNodeID: "b", SourceOutput: "main", TargetNodeID: "c", TargetInput: "main"},
		},
	}
	in := wf.Incoming("c")
	require.Len(t, in, 2)
	assert.Equal(t, "c1", in[0].ID)
	assert.Equal(t, "c2", in[1].ID)
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() WorkflowGraph {
	return WorkflowGraph{
		States: []WorkflowState{
			{ID: "reported", Name: "已上报"},
			{ID: "assigned", Name: "已派单"},
			{ID: "done", Name: "已完成"},
		},
		Transitions: []WorkflowTransition{
			{FromStateID: "reported", ToStateID: "assigned", Label: "派单"},
			{FromStateID: "assigned", ToStateID: "done", Label: "完成"},
			{FromStateID: "assigned", ToStateID: "reported", Label: "退回"},
		},
		InitialStateID: "reported",
		FinalStateIDs:  []string{"done"},
	}
}

func TestGraphStateByID(t *testing.T) {
	g := sampleGraph()

	state := g.StateByID("assigned")
	require.NotNil(t, state)
	assert.Equal(t, "已派单", state.Name)

	assert.Nil(t, g.StateByID("ghost"))
}

func TestGraphTransitionsFrom(t *testing.T) {
	g := sampleGraph()

	from := g.TransitionsFrom("assigned")
	require.Len(t, from, 2)
	assert.Equal(t, "done", from[0].ToStateID)
	assert.Equal(t, "reported", from[1].ToStateID)

	assert.Empty(t, g.TransitionsFrom("done"))
}

func TestGraphFindTransition(t *testing.T) {
	g := sampleGraph()

	tr := g.FindTransition("reported", "assigned")
	require.NotNil(t, tr)
	assert.Equal(t, "派单", tr.Label)

	// 不存在的边
	assert.Nil(t, g.FindTransition("reported", "done"))
	assert.Nil(t, g.FindTransition("done", "reported"))
}

func TestGraphIsFinalState(t *testing.T) {
	g := sampleGraph()

	assert.True(t, g.IsFinalState("done"))
	assert.False(t, g.IsFinalState("reported"))
	assert.False(t, g.IsFinalState("ghost"))
}

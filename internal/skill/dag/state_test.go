package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearDAG() *DAG {
	return &DAG{
		ID:    "d1",
		Scope: GlobalScope(),
		Nodes: map[string]*Node{
			"a": {TaskID: "a", Status: TaskPending},
			"b": {TaskID: "b", Deps: []string{"a"}, Status: TaskPending},
			"c": {TaskID: "c", Deps: []string{"b"}, Status: TaskPending},
		},
		Status: DAGRunning,
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	d := &DAG{Nodes: map[string]*Node{
		"a": {TaskID: "a", Deps: []string{"b"}},
		"b": {TaskID: "b", Deps: []string{"a"}},
	}}
	require.Error(t, d.Validate())
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	require.NoError(t, linearDAG().Validate())
}

func TestReadyNodesOnlyRootsInitially(t *testing.T) {
	d := linearDAG()
	ready := d.ReadyNodes()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].TaskID)
}

func TestReadyNodesAscendingTaskIDTieBreak(t *testing.T) {
	d := &DAG{Nodes: map[string]*Node{
		"z": {TaskID: "z", Status: TaskPending},
		"a": {TaskID: "a", Status: TaskPending},
		"m": {TaskID: "m", Status: TaskPending},
	}}
	ready := d.ReadyNodes()
	require.Len(t, ready, 3)
	assert.Equal(t, []string{"a", "m", "z"}, []string{ready[0].TaskID, ready[1].TaskID, ready[2].TaskID})
}

func TestReadyNodesWaitsOnIncompleteDeps(t *testing.T) {
	d := linearDAG()
	d.Nodes["a"].Status = TaskCompleted
	ready := d.ReadyNodes()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].TaskID)
}

func TestCompletedInReverseTopoOrder(t *testing.T) {
	d := linearDAG()
	for _, n := range d.Nodes {
		n.Status = TaskCompleted
	}
	order := d.CompletedInReverseTopoOrder()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{order[0].TaskID, order[1].TaskID, order[2].TaskID})
}

func TestInferScopeExplicitWins(t *testing.T) {
	explicit := UserScope("u1")
	got := InferScope(&explicit, "proj-a-1", "proj-b-1")
	assert.Equal(t, explicit, got)
}

func TestInferScopeProjectIDVar(t *testing.T) {
	got := InferScope(nil, "proj123", "anything")
	assert.Equal(t, ProjectScope("proj123"), got)
}

func TestInferScopeIDPattern(t *testing.T) {
	got := InferScope(nil, "", "proj-alpha-42")
	assert.Equal(t, ProjectScope("alpha"), got)
}

func TestInferScopeFallsBackToGlobal(t *testing.T) {
	got := InferScope(nil, "", "dag-without-pattern")
	assert.Equal(t, GlobalScope(), got)
}

package dag

import (
	"context"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/skill"
	"github.com/mosiyuan/cis/internal/storage"
)

type fakeExecutor struct {
	fail map[string]bool
}

func (f *fakeExecutor) Execute(ctx context.Context, ec *skill.ExecutionContext, skillRef string, input []byte) ([]byte, error) {
	if f.fail[skillRef] {
		return nil, assert.AnError
	}
	return []byte("ok"), nil
}

func newTestScheduler(t *testing.T, exec Executor) *Scheduler {
	t.Helper()
	path := t.TempDir() + "/skills.db"
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("dags"))
		return err
	}))

	bucket := storage.NewBucket(db, []byte("dags"))
	bus := eventbus.New()
	workers, err := NewWorkerPool(t.TempDir())
	require.NoError(t, err)

	return NewScheduler(bucket, bus, workers, exec, skill.DefaultResourceLimits())
}

func TestSchedulerSubmitRejectsCycle(t *testing.T) {
	s := newTestScheduler(t, &fakeExecutor{})
	d := &DAG{ID: "bad", Nodes: map[string]*Node{
		"a": {TaskID: "a", Deps: []string{"b"}},
		"b": {TaskID: "b", Deps: []string{"a"}},
	}}
	require.Error(t, s.Submit(d))
}

func TestSchedulerRunsLinearDAGToCompletion(t *testing.T) {
	s := newTestScheduler(t, &fakeExecutor{})
	d := linearDAG()
	require.NoError(t, s.Submit(d))

	// Drive the tick loop manually until the DAG completes or a bound
	// is hit, since the scheduler's own ticker runs on a 2s cadence.
	for i := 0; i < len(d.Nodes)+1; i++ {
		require.NoError(t, s.tick(context.Background()))
	}

	var got DAG
	require.NoError(t, s.dags.Get("d1", &got))
	assert.Equal(t, DAGCompleted, got.Status)
	for _, n := range got.Nodes {
		assert.Equal(t, TaskCompleted, n.Status)
	}
}

func TestSchedulerMechanicalGateRollsBackAfterRetries(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]bool{"bad-skill": true}}
	s := newTestScheduler(t, exec)
	s.RegisterGate("bad-skill", Gate{Tier: GateMechanical, RetryPolicy: RetryPolicy{MaxRetries: 1}})

	d := &DAG{ID: "d2", Nodes: map[string]*Node{
		"a": {TaskID: "a", SkillRef: "bad-skill"},
	}}
	require.NoError(t, s.Submit(d))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.tick(context.Background()))
	}

	var got DAG
	require.NoError(t, s.dags.Get("d2", &got))
	assert.Equal(t, DAGFailed, got.Status)
}

func TestSchedulerResolveConfirmedApproval(t *testing.T) {
	s := newTestScheduler(t, &fakeExecutor{})
	s.RegisterGate("human-gate", Gate{Tier: GateConfirmed})

	d := &DAG{ID: "d3", Nodes: map[string]*Node{
		"a": {TaskID: "a", SkillRef: "human-gate", Status: TaskFailed},
	}}
	d.Status = DAGRunning
	require.NoError(t, s.save(d))

	require.NoError(t, s.Resolve("d3", "a", true))

	var got DAG
	require.NoError(t, s.dags.Get("d3", &got))
	assert.Equal(t, TaskPending, got.Nodes["a"].Status)
}

func TestSchedulerResolveRejectionRollsBack(t *testing.T) {
	s := newTestScheduler(t, &fakeExecutor{})
	d := &DAG{ID: "d4", Nodes: map[string]*Node{
		"a": {TaskID: "a", Status: TaskFailed},
	}}
	d.Status = DAGRunning
	require.NoError(t, s.save(d))

	require.NoError(t, s.Resolve("d4", "a", false))

	var got DAG
	require.NoError(t, s.dags.Get("d4", &got))
	assert.Equal(t, DAGFailed, got.Status)
}

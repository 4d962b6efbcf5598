package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/skill"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Executor runs one task's skill to completion or failure. The
// scheduler is variant-agnostic: native, WASM, and remote dispatch all
// satisfy this signature symmetrically.
type Executor interface {
	Execute(ctx context.Context, ec *skill.ExecutionContext, skillRef string, input []byte) ([]byte, error)
}

// Scheduler drives DAG submissions to completion, grounded on
// cuemby-warren's pkg/scheduler/scheduler.go: a mutex-guarded
// reference plus a time.Ticker-driven run loop, generalized from
// container placement to level-by-level task dispatch.
type Scheduler struct {
	dags     *storage.Bucket
	bus      *eventbus.Bus
	workers  *WorkerPool
	executor Executor
	gates    map[string]Gate // skillRef -> Gate, set at registration time
	limits   skill.ResourceLimits

	log    zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

func NewScheduler(dags *storage.Bucket, bus *eventbus.Bus, workers *WorkerPool, executor Executor, limits skill.ResourceLimits) *Scheduler {
	return &Scheduler{
		dags:     dags,
		bus:      bus,
		workers:  workers,
		executor: executor,
		gates:    make(map[string]Gate),
		limits:   limits,
		log:      telemetry.Component("skill.dag"),
		stopCh:   make(chan struct{}),
	}
}

// RegisterGate binds a decision gate to every task whose skill_ref
// equals skillRef, per spec.md §4.6.2's submission-time gate choice.
func (s *Scheduler) RegisterGate(skillRef string, g Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[skillRef] = g
}

// Start begins the scheduler's polling loop.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.tick(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("dag scheduling cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// tick advances every Running DAG by one round: dispatch newly-ready
// nodes, then settle failed nodes against their decision gate.
func (s *Scheduler) tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*DAG
	err := s.dags.ForEach(func(key string, value []byte) error {
		var d DAG
		if err := decodeJSON(value, &d); err != nil {
			return err
		}
		if d.Status == DAGRunning {
			active = append(active, &d)
		}
		return nil
	})
	if err != nil {
		return cerr.New(cerr.Storage, "dag.Scheduler.tick", err)
	}

	for _, d := range active {
		if err := s.advance(ctx, d); err != nil {
			s.log.Error().Err(err).Str("dag_id", d.ID).Msg("failed to advance dag")
			continue
		}
	}
	return nil
}

func (s *Scheduler) advance(ctx context.Context, d *DAG) error {
	s.settleFailures(d)

	ready := d.ReadyNodes()
	for _, n := range ready {
		s.dispatch(ctx, d, n)
	}

	s.finalize(d)
	return s.save(d)
}

// dispatch runs one node synchronously within the tick; fan-out across
// nodes of the same level happens across successive calls within this
// loop iteration, bounded by the worker pool's per-scope reuse rather
// than an explicit parallelism knob, matching spec.md §4.6.2's
// "configurable fan-out governed by worker availability."
func (s *Scheduler) dispatch(ctx context.Context, d *DAG, n *Node) {
	n.Status = TaskRunning
	n.Version++

	w, err := s.workers.Acquire(d.Scope)
	if err != nil {
		s.log.Error().Err(err).Str("dag_id", d.ID).Str("task_id", n.TaskID).Msg("no worker available for scope")
		n.Status = TaskFailed
		return
	}
	defer w.Release()

	ec := &skill.ExecutionContext{
		RunID:          fmt.Sprintf("%s/%s", d.ID, n.TaskID),
		TaskID:         n.TaskID,
		Deadline:       time.Now().Add(s.limits.Timeout),
		RemainingSteps: s.limits.StepBudget,
	}

	_, err = s.executor.Execute(ctx, ec, n.SkillRef, nil)
	if err != nil {
		n.Status = TaskFailed
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicDeliveryFailed, Publisher: "dag", Timestamp: time.Now(), Payload: n.TaskID})
		return
	}
	n.Status = TaskCompleted
}

// settleFailures applies each failed node's decision gate: Mechanical
// retries in place, Recommended applies its default action once its
// timeout elapses, Confirmed/Arbitrated leave the node parked pending
// external resolution (Resolve).
func (s *Scheduler) settleFailures(d *DAG) {
	now := time.Now()
	for _, n := range d.Nodes {
		if n.Status != TaskFailed {
			continue
		}
		gate, ok := s.gates[n.SkillRef]
		if !ok {
			continue
		}
		action, waiting := NextAction(gate, n, now, now)
		if waiting {
			if gate.Tier == GateArbitrated {
				n.Status = TaskAwaitingVotes
			}
			continue
		}
		switch action {
		case ActionRetry:
			n.Retries++
			n.Status = TaskPending
		case ActionSkip:
			n.Status = TaskCompleted
		case ActionRollback:
			s.rollback(d)
		}
	}
}

// rollback walks every Completed node in reverse topological order,
// invoking each one's RollbackRef skill, per spec.md §4.6.2's
// all-or-nothing failure semantics.
func (s *Scheduler) rollback(d *DAG) {
	d.Status = DAGFailed
	for _, n := range d.CompletedInReverseTopoOrder() {
		if n.RollbackRef == "" {
			continue
		}
		ec := &skill.ExecutionContext{RunID: fmt.Sprintf("%s/%s/rollback", d.ID, n.TaskID), Deadline: time.Now().Add(s.limits.Timeout)}
		if _, err := s.executor.Execute(context.Background(), ec, n.RollbackRef, nil); err != nil {
			s.log.Error().Err(err).Str("dag_id", d.ID).Str("task_id", n.TaskID).Msg("rollback step failed")
		}
	}
}

func (s *Scheduler) finalize(d *DAG) {
	if d.Status != DAGRunning {
		return
	}
	allDone := true
	for _, n := range d.Nodes {
		if n.Status != TaskCompleted {
			allDone = false
			break
		}
	}
	if allDone {
		d.Status = DAGCompleted
	}
}

func (s *Scheduler) save(d *DAG) error {
	d.Version++
	return s.dags.Put(d.ID, d)
}

// Submit validates and persists a new DAG in the Running state.
func (s *Scheduler) Submit(d *DAG) error {
	if err := d.Validate(); err != nil {
		return cerr.New(cerr.Protocol, "dag.Scheduler.Submit", err)
	}
	for _, n := range d.Nodes {
		n.Status = TaskPending
	}
	d.Status = DAGRunning
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(d)
}

// TaskCounts tallies every node across every DAG by TaskStatus, for
// the /status probe of spec.md §6.
func (s *Scheduler) TaskCounts() map[string]int {
	counts := make(map[string]int)
	_ = s.dags.ForEach(func(_ string, value []byte) error {
		var d DAG
		if err := decodeJSON(value, &d); err != nil {
			return err
		}
		for _, n := range d.Nodes {
			counts[string(n.Status)]++
		}
		return nil
	})
	return counts
}

// Resolve applies an out-of-band human decision (Confirmed) or a cast
// vote (Arbitrated) to a parked task.
func (s *Scheduler) Resolve(dagID, taskID string, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d DAG
	if err := s.dags.Get(dagID, &d); err != nil {
		return cerr.New(cerr.NotFound, "dag.Scheduler.Resolve", err)
	}
	n, ok := d.Nodes[taskID]
	if !ok {
		return cerr.New(cerr.NotFound, "dag.Scheduler.Resolve", fmt.Errorf("task %q not in dag %q", taskID, dagID))
	}
	if approve {
		n.Status = TaskPending
	} else {
		n.Status = TaskFailed
		s.rollback(&d)
	}
	return s.save(&d)
}

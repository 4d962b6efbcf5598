// Package dag implements C6's DAG scheduler (spec.md §4.6.2): scope
// inference, level-by-level execution, the four-tier decision gate,
// and per-scope worker reuse via a file lock.
package dag

import "fmt"

// Scope is spec.md §3's DAG scope.
type Scope struct {
	Kind string // "Global", "Project", "User", "Type"
	ID   string
}

func GlobalScope() Scope            { return Scope{Kind: "Global"} }
func ProjectScope(id string) Scope  { return Scope{Kind: "Project", ID: id} }
func UserScope(id string) Scope     { return Scope{Kind: "User", ID: id} }
func TypeScope(id string) Scope     { return Scope{Kind: "Type", ID: id} }

// Key identifies the worker identity a scope maps to, per spec.md
// §4.6.2's "Scope determines the worker identity used for reuse."
func (s Scope) Key() string {
	if s.ID == "" {
		return s.Kind
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// TaskStatus is spec.md §4.6.2's per-task state machine.
type TaskStatus string

const (
	TaskPending       TaskStatus = "Pending"
	TaskReady         TaskStatus = "Ready"
	TaskRunning       TaskStatus = "Running"
	TaskAwaitingVotes TaskStatus = "AwaitingVotes"
	TaskCompleted     TaskStatus = "Completed"
	TaskFailed        TaskStatus = "Failed"
	TaskCancelled     TaskStatus = "Cancelled"
)

// RetryPolicy bounds Mechanical-level retries.
type RetryPolicy struct {
	MaxRetries int
}

// Level is a node's distance from the DAG's roots, carried with the
// submitted DAG. Submit does not compute it and the scheduler does not
// read it: each tick dispatches whatever ReadyNodes returns.
type Level int

// Node is spec.md §3's DAG node: {deps[], skill_ref, level, retry_policy, rollback_ref?}.
type Node struct {
	TaskID      string      `json:"task_id"`
	Deps        []string    `json:"deps"`
	SkillRef    string      `json:"skill_ref"`
	Level       Level       `json:"level"`
	RetryPolicy RetryPolicy `json:"retry_policy"`
	RollbackRef string      `json:"rollback_ref,omitempty"`

	Status  TaskStatus `json:"status"`
	Version uint64     `json:"version"`
	Retries int        `json:"retries"`
}

// DAGStatus is the overall submission's lifecycle.
type DAGStatus string

const (
	DAGRunning   DAGStatus = "Running"
	DAGCompleted DAGStatus = "Completed"
	DAGFailed    DAGStatus = "Failed"
	DAGCancelled DAGStatus = "Cancelled"
)

// DAG is spec.md §3's DAG: {id, scope, target_node?, nodes, status, version}.
type DAG struct {
	ID         string          `json:"id"`
	Scope      Scope           `json:"scope"`
	TargetNode string          `json:"target_node,omitempty"`
	Nodes      map[string]*Node `json:"nodes"`
	Status     DAGStatus       `json:"status"`
	Version    uint64          `json:"version"`
}

// Validate rejects a DAG whose deps graph contains a cycle, per
// spec.md §3's submission invariant.
func (d *DAG) Validate() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("dag %q: cycle detected at task %q", d.ID, id)
		case black:
			return nil
		}
		color[id] = gray
		node, ok := d.Nodes[id]
		if !ok {
			return fmt.Errorf("dag %q: task %q references unknown dep", d.ID, id)
		}
		for _, dep := range node.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range d.Nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// ReadyNodes returns every Pending node whose deps are all Completed,
// sorted ascending by task id for the tie-break rule of spec.md §4.6.2.
func (d *DAG) ReadyNodes() []*Node {
	var ready []*Node
	for _, n := range d.Nodes {
		if n.Status != TaskPending {
			continue
		}
		allDone := true
		for _, dep := range n.Deps {
			if d.Nodes[dep].Status != TaskCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			n.Status = TaskReady
			ready = append(ready, n)
		}
	}
	sortNodesByTaskID(ready)
	return ready
}

func sortNodesByTaskID(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].TaskID < nodes[j-1].TaskID; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// CompletedInReverseTopoOrder returns every Completed node in reverse
// topological order, for rollback per spec.md §4.6.2.
func (d *DAG) CompletedInReverseTopoOrder() []*Node {
	var order []*Node
	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		node := d.Nodes[id]
		for _, dep := range node.Deps {
			visit(dep)
		}
		if node.Status == TaskCompleted {
			order = append(order, node)
		}
	}
	for id := range d.Nodes {
		visit(id)
	}
	// order is topological (deps before dependents); reverse it.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// InferScope implements spec.md §4.6.2's inference rules, in order:
// explicit scope, PROJECT_ID context variable, id pattern
// "proj-<x>-…", otherwise Global.
func InferScope(explicit *Scope, projectIDVar, dagID string) Scope {
	if explicit != nil {
		return *explicit
	}
	if projectIDVar != "" {
		return ProjectScope(projectIDVar)
	}
	if id, ok := projectIDFromPattern(dagID); ok {
		return ProjectScope(id)
	}
	return GlobalScope()
}

func projectIDFromPattern(dagID string) (string, bool) {
	const prefix = "proj-"
	if len(dagID) <= len(prefix) || dagID[:len(prefix)] != prefix {
		return "", false
	}
	rest := dagID[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '-' {
			return rest[:i], true
		}
	}
	return "", false
}

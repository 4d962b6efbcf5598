// Package skill implements C6's skill runtime and DAG scheduler
// (spec.md §4.6): manifests, permission-checked host calls, the WASM
// sandbox, native-skill registration, and the DAG executor.
package skill

import "time"

// Variant is spec.md §3's Skill Manifest `type` field.
type Variant string

const (
	VariantNative Variant = "Native"
	VariantWasm   Variant = "Wasm"
	VariantRemote Variant = "Remote"
	VariantDag    Variant = "Dag"
)

// ResourceLimits bounds a skill invocation, per spec.md §4.6.1's
// instance-construction and execution limits.
type ResourceLimits struct {
	MemoryLimitBytes uint64        `json:"memory_limit_bytes"`
	TableElementCap  uint32        `json:"table_element_cap"`
	Timeout          time.Duration `json:"timeout"`
	StepBudget       uint64        `json:"step_budget"`
}

// DefaultResourceLimits matches spec.md §4.6.1's stated defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimitBytes: 512 << 20, // 512 MiB
		TableElementCap:  10_000,
		Timeout:          30 * time.Second,
		StepBudget:       1_000_000,
	}
}

// ExecutionContext is spec.md §3's per-invocation context, created by
// the scheduler. Every file a host call touches is recorded in it via
// AcquireFD; fs.read and fs.write open and close the file within the
// call, so no descriptor outlives the call.
type ExecutionContext struct {
	RunID          string
	TaskID         string
	Deadline       time.Time
	RemainingSteps uint64
	Permissions    PermissionSet
	CallerDID      string

	fds []FileHandle
}

// FileHandle records a file a host call touched during the invocation.
// AcquireFD appends it to the context and AcquiredFDs lists them; the
// record holds no open descriptor.
type FileHandle struct {
	Path string
	Mode string
	id   uint64
}

// AcquireFD records an open file handle against the context.
func (ec *ExecutionContext) AcquireFD(h FileHandle) {
	ec.fds = append(ec.fds, h)
}

// AcquiredFDs returns every handle opened during this invocation.
func (ec *ExecutionContext) AcquiredFDs() []FileHandle {
	return ec.fds
}

// Package native holds the process-local callable registry for
// spec.md §4.6.1's Native skill variant: skills registered at startup
// rather than loaded from a WASM module or forwarded to another node.
package native

import (
	"fmt"
	"sync"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/skill"
)

// Func is a native skill's entry point, symmetrical with the WASM
// host call surface: it receives the invocation's ExecutionContext so
// permission checks and step accounting apply identically to both
// variants.
type Func func(ctx *skill.ExecutionContext, input []byte) ([]byte, error)

// Registry holds native skills keyed by name, registered once at
// startup by the composition root.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Invoke runs the named native skill.
func (r *Registry) Invoke(ctx *skill.ExecutionContext, name string, input []byte) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, cerr.New(cerr.NotFound, "native.Invoke", fmt.Errorf("no native skill named %q", name))
	}
	return fn(ctx, input)
}

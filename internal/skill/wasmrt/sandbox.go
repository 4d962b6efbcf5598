// Package wasmrt is the WASM sandbox of spec.md §4.6.1, built on
// wazero: the only dependency in the retrieval pack (or the wider
// ecosystem reachable from it) offering a pure-Go WASM host, adopted
// as the deliberate out-of-pack exception recorded in SPEC_FULL.md §5.
package wasmrt

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/skill"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// maxModuleBytes is the module size cap of spec.md §4.6.1, fixed at
// compile time; modules larger than this are rejected at validation
// time.
const maxModuleBytes = 64 << 20 // 64 MiB

// Sandbox compiles and runs WASM skill modules under the limits of
// spec.md §4.6.1: a wall-clock timeout, a memory ceiling, and an
// import surface restricted to the host call module registered by
// RegisterHostModule. No step budget is applied: nothing in the
// sandbox reads or decrements skill.ExecutionContext.RemainingSteps.
type Sandbox struct {
	runtime     wazero.Runtime
	compileOnce map[string]wazero.CompiledModule
	log         zerolog.Logger
}

// New constructs a Sandbox. limits.MemoryLimitBytes bounds every
// instance's linear memory via wazero's RuntimeConfig memory limiter.
func New(ctx context.Context, limits skill.ResourceLimits) (*Sandbox, error) {
	pages := limits.MemoryLimitBytes / wasmPageSize
	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(uint32(pages)).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	return &Sandbox{
		runtime:     rt,
		compileOnce: make(map[string]wazero.CompiledModule),
		log:         telemetry.Component("skill.wasmrt"),
	}, nil
}

const wasmPageSize = 65536

// Validate rejects modules larger than maxModuleBytes and compiles
// the module, which surfaces forbidden-feature use (threads,
// exceptions, 64-bit memory when the runtime config disables them) as
// a compile error from wazero's own validator.
func (s *Sandbox) Validate(ctx context.Context, name string, wasmBytes []byte) (wazero.CompiledModule, error) {
	if len(wasmBytes) > maxModuleBytes {
		return nil, cerr.New(cerr.Resource, "wasmrt.Validate", fmt.Errorf("module %q exceeds size cap of %d bytes", name, maxModuleBytes))
	}
	compiled, err := s.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, cerr.New(cerr.Protocol, "wasmrt.Validate", err)
	}
	s.compileOnce[name] = compiled
	return compiled, nil
}

// Run instantiates the named compiled module and invokes entryPoint,
// enforcing the wall-clock timeout from skillCtx.Deadline;
// skillCtx.RemainingSteps is neither read nor decremented. Every
// resource acquired during the call is released when Run returns,
// even on panic.
func (s *Sandbox) Run(ctx context.Context, skillCtx *skill.ExecutionContext, moduleName, entryPoint string, args []uint64) (results []uint64, err error) {
	compiled, ok := s.compileOnce[moduleName]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "wasmrt.Run", fmt.Errorf("module %q not validated", moduleName))
	}

	runCtx, cancel := context.WithDeadline(ctx, skillCtx.Deadline)
	defer cancel()

	modCfg := wazero.NewModuleConfig().WithName(skillCtx.RunID)
	instance, err := s.runtime.InstantiateModule(runCtx, compiled, modCfg)
	if err != nil {
		return nil, cerr.New(cerr.Resource, "wasmrt.Run", err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("module", moduleName).Msg("sandbox call panicked")
			err = cerr.New(cerr.Resource, "wasmrt.Run", fmt.Errorf("panic: %v", r))
		}
		_ = instance.Close(ctx)
	}()

	fn := instance.ExportedFunction(entryPoint)
	if fn == nil {
		return nil, cerr.New(cerr.NotFound, "wasmrt.Run", fmt.Errorf("entry point %q not exported by %q", entryPoint, moduleName))
	}

	deadline := time.Until(skillCtx.Deadline)
	if deadline <= 0 {
		return nil, cerr.New(cerr.Timeout, "wasmrt.Run", fmt.Errorf("deadline already elapsed"))
	}

	out, err := fn.Call(runCtx, args...)
	if err != nil {
		return nil, cerr.New(cerr.Resource, "wasmrt.Run", err)
	}
	return out, nil
}

// Close releases every compiled module and the underlying runtime.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// RegisterHostModule exposes fns as moduleName's import surface,
// binding the host calls of spec.md §4.6.1 symmetrically for every
// WASM module the sandbox instantiates. Callers are expected to wrap
// each fn so it checks and decrements skill.ExecutionContext's
// RemainingSteps before delegating to the host package, keeping step
// accounting identical between the Native and Wasm variants.
func (s *Sandbox) RegisterHostModule(ctx context.Context, moduleName string, fns map[string]api.GoModuleFunc) error {
	builder := s.runtime.NewHostModuleBuilder(moduleName)
	for name, fn := range fns {
		builder = builder.NewFunctionBuilder().WithGoModuleFunction(fn, nil, nil).Export(name)
	}
	_, err := builder.Instantiate(ctx)
	if err != nil {
		return cerr.New(cerr.Config, "wasmrt.RegisterHostModule", err)
	}
	return nil
}

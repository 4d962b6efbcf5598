package dag

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Worker is a leased, per-scope execution slot. Release must be
// called exactly once, normally via defer at the acquiring call site.
type Worker struct {
	scope Scope
	pool  *WorkerPool
}

func (w *Worker) Release() {
	w.pool.release(w.scope)
}

// WorkerPool hands out one Worker per Scope at a time, reusing the
// same identity for every task sharing a scope per spec.md §4.6.2's
// "scope determines the worker identity used for reuse." Leases are
// backed by a pid-stamped lock file under dir so reuse survives
// process restarts: a lock file whose pid is no longer alive is
// treated as stale and reclaimed rather than blocking forever.
type WorkerPool struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	held  map[string]bool // scope key -> held in this process
}

func NewWorkerPool(dir string) (*WorkerPool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cerr.New(cerr.Storage, "dag.NewWorkerPool", err)
	}
	return &WorkerPool{
		dir:  dir,
		log:  telemetry.Component("skill.dag.worker"),
		held: make(map[string]bool),
	}, nil
}

// Acquire leases the worker for scope, reclaiming a stale lock file
// left behind by a crashed process holding the same scope.
func (p *WorkerPool) Acquire(scope Scope) (*Worker, error) {
	key := scope.Key()
	path := p.lockPath(key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held[key] {
		return nil, cerr.New(cerr.Resource, "dag.WorkerPool.Acquire", fmt.Errorf("scope %q already held in this process", key))
	}

	if err := p.tryLock(path); err != nil {
		if !p.reclaimStale(path) {
			return nil, cerr.New(cerr.Resource, "dag.WorkerPool.Acquire", fmt.Errorf("scope %q is held by a live process", key))
		}
		if err := p.tryLock(path); err != nil {
			return nil, cerr.New(cerr.Resource, "dag.WorkerPool.Acquire", err)
		}
	}

	p.held[key] = true
	return &Worker{scope: scope, pool: p}, nil
}

func (p *WorkerPool) release(scope Scope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := scope.Key()
	delete(p.held, key)
	_ = os.Remove(p.lockPath(key))
}

func (p *WorkerPool) lockPath(key string) string {
	safe := strings.ReplaceAll(key, "/", "_")
	return filepath.Join(p.dir, safe+".lock")
}

// tryLock creates path exclusively, writing this process's pid. It
// fails if the file already exists.
func (p *WorkerPool) tryLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

// reclaimStale removes path if the pid it names is no longer alive,
// reporting whether it reclaimed anything.
func (p *WorkerPool) reclaimStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	if processAlive(pid) {
		return false
	}
	p.log.Warn().Int("pid", pid).Str("path", path).Msg("reclaiming stale worker lock")
	return os.Remove(path) == nil
}

// processAlive checks pid liveness via signal 0, which delivers no
// signal but reports ESRCH if the process is gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

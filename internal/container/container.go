// Package container implements C3's service container (spec.md §4.3):
// a build-phase step that constructs every long-lived service exactly
// once, in the dependency order fixed by spec.md §2, and hands out the
// same long-lived handle to every caller thereafter. Grounded on
// SAGE's pkg/agent/core/core.go constructor-injection pattern — a
// struct holding already-built manager handles, assembled by one New()
// — scaled up here to the full C1-C6 chain instead of a single
// crypto/DID pair.
package container

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/config"
	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/federation"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/memory"
	"github.com/mosiyuan/cis/internal/skill"
	"github.com/mosiyuan/cis/internal/skill/dag"
	"github.com/mosiyuan/cis/internal/skill/host"
	"github.com/mosiyuan/cis/internal/skill/native"
	"github.com/mosiyuan/cis/internal/skill/wasmrt"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// dropCounterAdapter satisfies eventbus.DropCounter over
// telemetry.Metrics.EventBusDrops, since the bus must not import
// prometheus directly.
type dropCounterAdapter struct{ m *telemetry.Metrics }

func (a dropCounterAdapter) Inc(topic string) { a.m.EventBusDrops.WithLabelValues(topic).Inc() }

// skillExecutor implements dag.Executor by resolving skillRef through
// the manifest registry and dispatching to whichever variant backend
// the manifest names, per spec.md §4.6's "variant-agnostic execution"
// requirement.
type skillExecutor struct {
	manifests *skill.Registry
	native    *native.Registry
	sandbox   *wasmrt.Sandbox
	metrics   *telemetry.Metrics
}

func (e *skillExecutor) Execute(ctx context.Context, ec *skill.ExecutionContext, skillRef string, input []byte) ([]byte, error) {
	m, err := e.manifests.Get(skillRef)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch m.Type {
	case skill.VariantNative:
		out, err = e.native.Invoke(ec, skillRef, input)
	case skill.VariantWasm:
		entry := m.EntryPoints["run"]
		_, err = e.sandbox.Run(ctx, ec, skillRef, entry, nil)
	default:
		err = cerr.New(cerr.Config, "container.skillExecutor.Execute", errUnsupportedVariant{variant: string(m.Type)})
	}

	if e.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.SkillInvocations.WithLabelValues(string(m.Type), outcome).Inc()
	}
	return out, err
}

type errUnsupportedVariant struct{ variant string }

func (e errUnsupportedVariant) Error() string {
	return "container: skill variant " + e.variant + " has no DAG-dispatchable executor"
}

// Container holds every service built for one running node, in the
// order C1 (Identity) -> C2 (Storage) -> C3 (Event Bus) -> C4
// (Federation) -> C5 (Memory) -> C6 (Skill Runtime). No field is
// exported as mutable state; every accessor returns the same
// long-lived handle constructed in New.
type Container struct {
	cfg *config.Config

	identity *identity.NodeIdentity
	storage  *storage.Engine

	bus     *eventbus.Bus
	metrics *telemetry.Metrics

	acl      *federation.ACL
	peers    *federation.PeerRegistry
	fedMgr   *federation.Manager
	fedQueue *federation.Queue

	memory *memory.Service

	manifests *skill.Registry
	native    *native.Registry
	sandbox   *wasmrt.Sandbox
	host      *host.Host
	workers   *dag.WorkerPool
	scheduler *dag.Scheduler
}

// Dependencies holds everything a build needs that doesn't come from
// the config file: the node's identity secret material, and an
// optional AI adapter. Kept separate from Config so tests can
// substitute a throwaway mnemonic without writing one to disk.
type Dependencies struct {
	Config      *config.Config
	Mnemonic    string
	Fingerprint string
	AIProvider  host.AIProvider // optional; nil disables ai.prompt
}

// New builds every C1-C6 service exactly once, in spec.md §2's
// dependency order, and wires the telemetry collectors into the event
// bus and the skill executor. Test builds pass a Dependencies with
// a throwaway Mnemonic/Fingerprint and a tmp Config.Storage.DataDir to
// get a fully isolated Container.
func New(ctx context.Context, deps Dependencies) (*Container, error) {
	c := &Container{cfg: deps.Config}

	// C1 - Identity & Crypto: the root of trust everything else signs
	// or encrypts against.
	id, err := identity.Bind(deps.Mnemonic, deps.Fingerprint, deps.Config.Storage.DataDir)
	if err != nil {
		return nil, cerr.New(cerr.Identity, "container.New", err)
	}
	c.identity = id

	// C2 - Storage Engine: every other component's durable state.
	eng, err := storage.Open(deps.Config.Storage.DataDir)
	if err != nil {
		return nil, cerr.New(cerr.Storage, "container.New", err)
	}
	c.storage = eng

	// C3 - Event Bus & the metrics registry every later component
	// reports into.
	c.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
	c.bus = eventbus.New()
	c.bus.SetDropCounter(dropCounterAdapter{m: c.metrics})

	// C4 - P2P Transport & Federation.
	c.acl = federation.NewACL(eng.PeerBucket(), federation.ACLOpen)
	c.peers = federation.NewPeerRegistry(eng.PeerBucket())
	c.fedMgr = federation.NewManager(id, c.acl, c.peers, c.bus)
	c.fedQueue = federation.NewQueue(eng.SyncQueueBucket(), c.fedMgr, c.bus)

	// C5 - Memory Service.
	mem, err := memory.NewService(id, eng.MemoryPrivateBucket(), eng.MemoryPublicBucket(),
		eng.VectorIndexBucket(), c.bus, c.fedQueue, c.peers, nil)
	if err != nil {
		return nil, cerr.New(cerr.Storage, "container.New", err)
	}
	c.memory = mem

	// C6 - Skill Runtime & DAG Scheduler.
	c.manifests = skill.NewRegistry(eng.ManifestsBucket())
	c.native = native.NewRegistry()
	c.host = host.New(mem, deps.AIProvider, eng.SkillConfigBucket())

	limits := skill.ResourceLimits{
		MemoryLimitBytes: deps.Config.Wasm.MaxMemory,
		TableElementCap:  skill.DefaultResourceLimits().TableElementCap,
		Timeout:          deps.Config.Wasm.MaxExecutionTime.Duration(),
		StepBudget:       skill.DefaultResourceLimits().StepBudget,
	}
	sandbox, err := wasmrt.New(ctx, limits)
	if err != nil {
		return nil, cerr.New(cerr.Resource, "container.New", err)
	}
	c.sandbox = sandbox

	workers, err := dag.NewWorkerPool(deps.Config.Storage.DataDir + "/workers")
	if err != nil {
		return nil, cerr.New(cerr.Storage, "container.New", err)
	}
	c.workers = workers

	c.scheduler = dag.NewScheduler(eng.DAGsBucket(), c.bus, workers, &skillExecutor{
		manifests: c.manifests,
		native:    c.native,
		sandbox:   c.sandbox,
		metrics:   c.metrics,
	}, limits)

	return c, nil
}

// Identity returns the node's bound identity handle.
func (c *Container) Identity() *identity.NodeIdentity { return c.identity }

// Storage returns the multi-database storage engine.
func (c *Container) Storage() *storage.Engine { return c.storage }

// EventBus returns the process-wide pub/sub bus.
func (c *Container) EventBus() *eventbus.Bus { return c.bus }

// Metrics returns the prometheus collector set.
func (c *Container) Metrics() *telemetry.Metrics { return c.metrics }

// ACL returns the node's admission-control state.
func (c *Container) ACL() *federation.ACL { return c.acl }

// Peers returns the peer registry.
func (c *Container) Peers() *federation.PeerRegistry { return c.peers }

// Federation returns the connection manager.
func (c *Container) Federation() *federation.Manager { return c.fedMgr }

// DeliveryQueue returns the durable outbound delivery queue.
func (c *Container) DeliveryQueue() *federation.Queue { return c.fedQueue }

// Memory returns the key-value memory service.
func (c *Container) Memory() *memory.Service { return c.memory }

// Skills returns the installed-manifest registry.
func (c *Container) Skills() *skill.Registry { return c.manifests }

// Scheduler returns the DAG scheduler.
func (c *Container) Scheduler() *dag.Scheduler { return c.scheduler }

// Start begins every background loop a service owns: the delivery
// queue's retry ticker and the DAG scheduler's tick loop. Call once,
// after every accessor above has been wired into internal/node.
func (c *Container) Start() {
	c.fedQueue.Start()
	c.scheduler.Start()
}

// Close tears the container down in the exact reverse of its
// construction order (C6 -> C1), per SPEC_FULL.md's supplemented
// graceful-shutdown rule: drain the scheduler and delivery queue
// before the storage handles they write through are closed.
func (c *Container) Close(ctx context.Context) error {
	c.scheduler.Stop()
	if err := c.sandbox.Close(ctx); err != nil {
		telemetry.Component("container").Warn().Err(err).Msg("wasm sandbox close failed")
	}
	c.fedQueue.Stop()
	c.fedMgr.Close()
	c.bus.Close()
	return c.storage.Close()
}

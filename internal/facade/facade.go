// Package facade implements SharedState: the single refcounted object
// every VM and managed thread in a process holds a reference to. It
// composes the world-coordination core (world.State), the managed-thread
// registry, the preemption timer, and the object heap, and gives each of
// the out-of-scope collaborators (native-call trampoline, diagnostic
// agent, profiler, configuration) a place to live without folding their
// concerns into the coordination core itself.
package facade

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/inos_core/internal/config"
	"github.com/nmxmxh/inos_core/internal/memory"
	"github.com/nmxmxh/inos_core/internal/preempt"
	"github.com/nmxmxh/inos_core/internal/registry"
	"github.com/nmxmxh/inos_core/internal/world"
	"github.com/nmxmxh/inos_core/kernel/utils"
)

// shutdownTimeout bounds how long the shutdown functions run by Shutdown
// get before being abandoned.
const shutdownTimeout = 5 * time.Second

// SharedState is the process-wide object every VM instance and every
// managed thread holds a reference to. Its lifetime is refcounted: the
// last VM to discard it tears down the collaborators it owns.
type SharedState struct {
	World    *world.State
	Registry *registry.Registry
	Timer    *preempt.Timer
	Heap     *memory.ObjectHeap

	config config.Config
	logger *utils.Logger

	refs atomic.Int64

	mu        sync.Mutex
	shutdown  *utils.GracefulShutdown
	stopperID string
}

var _ memory.QuiescenceState = (*SharedState)(nil)

// New constructs a SharedState with a single reference already held by
// the caller (conventionally the process's root VM). arena backs the
// object heap; cfg governs logging, the preemption timer, and anything
// else a collaborator needs at startup.
func New(cfg config.Config, arena []byte) *SharedState {
	logger := utils.NewLogger(utils.LoggerConfig{
		Level:     parseLevel(cfg.Log.Level),
		Component: "facade",
		Colorize:  cfg.Log.Colorize,
	})

	s := &SharedState{
		World:    world.New(),
		Registry: registry.New(),
		Timer:    preempt.New(logger),
		config:   cfg,
		logger:   logger,
		shutdown: utils.NewGracefulShutdown(shutdownTimeout, logger),
	}
	s.Heap = memory.NewObjectHeap(arena, s)
	s.refs.Store(1)

	if cfg.Preempt.Enabled {
		s.Timer.Enable()
	}
	return s
}

// NewVM performs the façade's combined new_vm operation: it registers id
// as a managed thread (appending frame to the root-frame list, designating
// it root if none exists yet) and bumps the refcount in the same step,
// since both halves share the lifetime RemoveVM later reverses. Use this
// for a thread that owns a VM instance; use AddManagedThread instead for a
// thread owned externally to VM lifecycle (e.g. the diagnostic agent).
func (s *SharedState) NewVM(id string, frame *uintptr) *registry.Thread {
	s.refs.Add(1)
	s.World.BecomeDependent()
	return s.Registry.Add(id, frame)
}

// RemoveVM reverses NewVM: it marks the thread independent, drops its
// registry entry, and releases one reference. It does not free t itself —
// the caller's stack may still reference it — and when the last reference
// is released, every owned collaborator is torn down: the preemption
// timer is disabled and the registry's remaining bookkeeping stops
// mattering.
func (s *SharedState) RemoveVM(t *registry.Thread) {
	s.World.BecomeIndependent()
	s.Registry.Remove(t)
	if s.refs.Add(-1) == 0 {
		s.Timer.Disable()
		s.logger.Info("shared state torn down: last VM reference released")
	}
}

// Refs reports the current reference count, for diagnostics.
func (s *SharedState) Refs() int64 {
	return s.refs.Load()
}

// AddManagedThread registers a thread owned externally to VM lifecycle
// (e.g. the diagnostic agent's own goroutine) and marks it dependent on
// the world, returning the registry.Thread handle the caller must pass to
// RemoveManagedThread on exit. It does not touch the refcount: the
// thread's lifetime is independent of any VM's.
func (s *SharedState) AddManagedThread(id string, frame *uintptr) *registry.Thread {
	s.World.BecomeDependent()
	return s.Registry.Add(id, frame)
}

// RemoveManagedThread unregisters a managed thread and marks it
// independent of the world. Call this only from the thread itself,
// immediately before it unwinds; the frame pointer backing t.Frame must
// remain valid until this call returns.
func (s *SharedState) RemoveManagedThread(t *registry.Thread) {
	s.World.BecomeIndependent()
	s.Registry.Remove(t)
}

// StopTheWorld brings every dependent thread to a checkpoint and blocks
// until the last one has checked in. The caller becomes the holder of
// the stop-the-world episode until RestartWorld is called.
//
// stopperID identifies the calling thread for AccessGuard's benefit
// (internal/memory): while the episode is open, only this ID is
// recognized as holding it.
func (s *SharedState) StopTheWorld(stopperID string) {
	s.mu.Lock()
	s.stopperID = stopperID
	s.mu.Unlock()

	s.World.WaitTilAlone()
}

// RestartWorld ends the current stop-the-world episode, waking every
// thread parked in Checkpoint or BecomeDependent.
func (s *SharedState) RestartWorld() {
	s.World.RestartWorld()

	s.mu.Lock()
	s.stopperID = ""
	s.mu.Unlock()
}

// ThreadIsDependent reports whether threadID is a currently-registered
// managed thread, satisfying memory.QuiescenceState. It does not track
// per-thread state: a registered thread that is parked at a checkpoint or
// has gone independent (GCIndependent) still reports true.
func (s *SharedState) ThreadIsDependent(threadID string) bool {
	for _, t := range s.Registry.Threads() {
		if t.ID == threadID {
			return true
		}
	}
	return false
}

// StopperHoldsEpisode reports whether threadID is the thread currently
// holding a stop-the-world episode, satisfying memory.QuiescenceState.
func (s *SharedState) StopperHoldsEpisode(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.World.ShouldStop() && s.stopperID == threadID
}

// Checkpoint is what a managed thread calls at a safe point in its
// dispatch loop to honor a pending stop-the-world request.
func (s *SharedState) Checkpoint() {
	s.World.Checkpoint()
}

// GCIndependent marks the calling thread independent of the world for a
// bounded span of native or blocking work.
func (s *SharedState) GCIndependent() {
	s.World.BecomeIndependent()
}

// GCDependent reverses GCIndependent, blocking if a stop-the-world
// episode is in progress.
func (s *SharedState) GCDependent() {
	s.World.BecomeDependent()
}

// ThreadCount reports the number of currently-registered managed
// threads, for the diagnostic agent and profiler.
func (s *SharedState) ThreadCount() int {
	return s.Registry.Len()
}

// TimeWaiting, PendingThreads, and ShouldStop satisfy the profiler.Source
// and agent.Source interfaces by delegating to World.
func (s *SharedState) TimeWaiting() uint64 { return s.World.TimeWaiting() }
func (s *SharedState) PendingThreads() int { return s.World.PendingThreads() }
func (s *SharedState) ShouldStop() bool    { return s.World.ShouldStop() }

// RegisterShutdown adds fn to the set run, in LIFO order, when Shutdown
// is called.
func (s *SharedState) RegisterShutdown(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown.Register(fn)
}

// Shutdown runs every registered shutdown function in LIFO order, within
// ctx's deadline.
func (s *SharedState) Shutdown(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx)
}

// Reinit resets the shared state for reuse in a freshly-forked child:
// the world's pending-thread count and stop flag are reset to a single
// live thread (the child itself), and any configuration knob that would
// be actively wrong to inherit (the agent's listen address) is cleared.
// Go cannot safely continue running a multi-goroutine program across a
// raw fork(), so this is a state-reset contract for a process that
// re-execs or otherwise starts its goroutines fresh after forking, not a
// literal fork() wrapper.
func (s *SharedState) Reinit() {
	s.World.Reinit()
	s.Registry = registry.New()
	s.config.ResetForChild()
}

func parseLevel(level string) utils.LogLevel {
	switch level {
	case "debug":
		return utils.DEBUG
	case "warn":
		return utils.WARN
	case "error":
		return utils.ERROR
	default:
		return utils.INFO
	}
}

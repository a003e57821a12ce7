// Package world implements the stop-the-world coordination primitive: the
// mutex, condition variables, and counters that let one thread (the
// stopper) pause every other managed thread at a checkpoint, do work while
// the world is quiescent, and then let them resume.
//
// The package does not know what the stopper does with the quiescent world
// (that is the collector's business) and does not walk or move anything in
// memory. It only guarantees the handshake.
package world

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the coordination object. There is normally exactly one per
// runtime instance; it is created already representing the bootstrap
// thread as dependent.
type State struct {
	mu sync.Mutex

	// waitingToStop is signalled (never broadcast -- only the stopper ever
	// waits on it) each time a thread parks, so the stopper can notice the
	// world has gone quiet.
	waitingToStop *sync.Cond
	// waitingToRun is broadcast once per stop-the-world episode, waking
	// every thread that parked during it.
	waitingToRun *sync.Cond

	pendingThreads int
	shouldStop     atomic.Bool

	timeWaiting atomic.Uint64 // cumulative nanoseconds, monotonically increasing
}

// New returns a State with one dependent thread: the caller, acting as the
// runtime's bootstrap thread.
func New() *State {
	s := &State{pendingThreads: 1}
	s.waitingToStop = sync.NewCond(&s.mu)
	s.waitingToRun = sync.NewCond(&s.mu)
	return s
}

// Checkpoint is the hot path, called from every managed thread's dispatch
// loop as often as practical. The should_stop read is a relaxed atomic load
// taken without the mutex: the worst case is observing a stale false for
// one more iteration, which the preemption timer and the next checkpoint
// correct for. A stale true merely costs an unnecessary mutex acquisition.
func (s *State) Checkpoint() {
	if !s.shouldStop.Load() {
		return
	}
	s.mu.Lock()
	s.waitToRunLocked()
	s.mu.Unlock()
}

// BecomeIndependent moves the calling thread out of the dependent set,
// e.g. before it blocks in a native call. If a stop is already in
// progress, the thread first participates in it (as wait_to_run would)
// before excusing itself, so a stop that raced ahead of this call still
// observes the thread parking exactly once.
func (s *State) BecomeIndependent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldStop.Load() {
		s.waitToRunLocked()
	}
	s.pendingThreads--
	assertNonNegative(s.pendingThreads)
}

// BecomeDependent moves the calling thread back into the dependent set,
// e.g. on return from a native call. It blocks for the duration of any
// stop-the-world episode in progress.
func (s *State) BecomeDependent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.shouldStop.Load() {
		s.waitingToRun.Wait()
	}
	s.pendingThreads++
}

// WaitTilAlone is called by the stopper to begin a stop-the-world episode.
// It returns once every other dependent thread has either parked at a
// checkpoint or declared itself independent. The caller then holds
// exclusive logical access to the heap until RestartWorld is called.
func (s *State) WaitTilAlone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shouldStop.Store(true)
	s.pendingThreads--
	assertNonNegative(s.pendingThreads)

	start := time.Now()
	for s.pendingThreads > 0 {
		s.waitingToStop.Wait()
	}
	s.timeWaiting.Add(uint64(time.Since(start).Nanoseconds()))
}

// RestartWorld ends the stop-the-world episode started by WaitTilAlone,
// waking every parked thread.
func (s *State) RestartWorld() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shouldStop.Store(false)
	s.pendingThreads++
	s.waitingToRun.Broadcast()
}

// waitToRunLocked is the single point that converts a dependent thread into
// a quiescent, parked waiter and back. The mutex must already be held.
func (s *State) waitToRunLocked() {
	s.pendingThreads--
	assertNonNegative(s.pendingThreads)
	s.waitingToStop.Signal()

	for s.shouldStop.Load() {
		s.waitingToRun.Wait()
	}
	s.pendingThreads++
}

// Reinit resets the world to its post-fork state: one dependent thread (the
// surviving child), no stop in progress, and a zeroed waiting-time
// accumulator. It must only be called by the sole surviving thread after
// fork(), before any other thread record is reconstructed.
func (s *State) Reinit() {
	s.mu.Lock()
	s.waitingToStop = sync.NewCond(&s.mu)
	s.waitingToRun = sync.NewCond(&s.mu)
	s.pendingThreads = 1
	s.shouldStop.Store(false)
	s.timeWaiting.Store(0)
	s.mu.Unlock()
}

// TimeWaiting returns the cumulative nanoseconds the stopper has spent
// blocked inside WaitTilAlone across the life of this State. It never
// decreases.
func (s *State) TimeWaiting() uint64 {
	return s.timeWaiting.Load()
}

// PendingThreads returns a momentary snapshot of the dependent-thread
// count, for diagnostics and tests only; callers must not make correctness
// decisions based on it since it is stale the instant the mutex is
// released.
func (s *State) PendingThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingThreads
}

// ShouldStop reports whether a stop is currently requested or in progress.
func (s *State) ShouldStop() bool {
	return s.shouldStop.Load()
}

func assertNonNegative(pending int) {
	if pending < 0 {
		panic("world: pending_threads went negative -- a thread called become_independent, checkpoint, or wait_to_run from the wrong state")
	}
}

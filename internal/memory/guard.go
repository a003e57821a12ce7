package memory

import "fmt"

// QuiescenceState reports whether the calling goroutine may legally touch
// the object heap under the world-coordination contract described in
// internal/world: dependent threads may read/write, the stopper may
// read/write exclusively once it holds an episode, and independent or
// parked threads must not touch the heap at all.
type QuiescenceState interface {
	// ThreadIsDependent reports whether the named thread currently counts
	// toward pending_threads (i.e. may touch the heap).
	ThreadIsDependent(threadID string) bool
	// StopperHoldsEpisode reports whether a stop-the-world episode is in
	// progress and threadID is the thread that initiated it.
	StopperHoldsEpisode(threadID string) bool
}

// AccessGuard asserts the heap-access contract before a caller touches the
// heap. Violations are undetectable at the hardware level, so this guard
// only catches the cases the core can observe cheaply; it is meant for
// debug builds and tests, not as a substitute for caller discipline.
type AccessGuard struct {
	state    QuiescenceState
	threadID string
}

func NewAccessGuard(state QuiescenceState, threadID string) *AccessGuard {
	return &AccessGuard{state: state, threadID: threadID}
}

// Assert panics if the calling thread has no right to touch the heap right
// now. Call this immediately before any Allocate/Free/read/write.
func (g *AccessGuard) Assert() {
	if g.state.ThreadIsDependent(g.threadID) {
		return
	}
	if g.state.StopperHoldsEpisode(g.threadID) {
		return
	}
	panic(fmt.Sprintf("memory: thread %q touched the heap while neither dependent nor holding a stop-the-world episode", g.threadID))
}

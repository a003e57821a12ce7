// Package registry tracks every live managed thread and the root-set
// pointers the garbage collector needs while the world is stopped. The
// registry itself never walks the heap; it only owns the bookkeeping the
// stopper consults.
package registry

import "sync"

// FrameSlot is a pointer to a thread-owned stack slot holding that
// thread's current call-frame pointer. The registry borrows this pointer;
// it never owns or frees the slot it points to.
type FrameSlot = *uintptr

// Thread is the registry's view of a managed thread: identity, the slot
// the collector should scan as part of the root set, and whether this was
// the first thread registered (the root thread).
type Thread struct {
	ID     string
	Frame  FrameSlot
	IsRoot bool
}

// Registry is an ordered collection of live managed threads, plus the
// ordered list of root-set frame pointers the GC scans. Order is
// insertion order throughout; removal is by identity, not index, since
// threads come and go independently.
type Registry struct {
	mu      sync.Mutex
	threads []*Thread
	frames  []FrameSlot
	rooted  bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add appends a newly-arrived managed thread. The caller must already have
// made the thread dependent (via world.State.BecomeDependent, or by virtue
// of being the bootstrap thread) before calling Add: the registry itself
// has no opinion on dependent/independent state.
func (r *Registry) Add(id string, frame FrameSlot) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Thread{ID: id, Frame: frame, IsRoot: !r.rooted}
	r.rooted = true

	r.threads = append(r.threads, t)
	r.frames = append(r.frames, frame)
	return t
}

// Remove drops a thread from the registry and removes its frame slot from
// the root-pointer list. It does not free anything pointed to by the
// slot; the owning thread's stack remains the slot's owner until the
// thread itself unwinds.
func (r *Registry) Remove(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, cur := range r.threads {
		if cur == t {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			break
		}
	}
	for i, f := range r.frames {
		if f == t.Frame {
			r.frames = append(r.frames[:i], r.frames[i+1:]...)
			break
		}
	}
}

// RootFrames returns a snapshot of the current root-set frame pointers,
// for the collector to scan while the world is stopped.
func (r *Registry) RootFrames() []FrameSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FrameSlot, len(r.frames))
	copy(out, r.frames)
	return out
}

// Threads returns a snapshot of the live thread list, in registration
// order.
func (r *Registry) Threads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Thread, len(r.threads))
	copy(out, r.threads)
	return out
}

// Root returns the thread designated root, if any thread has been added
// yet.
func (r *Registry) Root() (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.threads {
		if t.IsRoot {
			return t, true
		}
	}
	return nil, false
}

// Len reports the number of currently-registered threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

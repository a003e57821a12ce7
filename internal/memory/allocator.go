package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ObjectHeap is the object-memory manager that the world-coordination core
// treats as an out-of-scope collaborator: the core never walks it or moves
// objects, it only guarantees that access to it is quiescent while a
// stop-the-world episode is in progress. ObjectHeap itself routes
// allocations to a slab allocator (small, fixed-size objects) or a buddy
// allocator (larger, power-of-two blocks), and enforces the quiescence
// contract itself rather than trusting every caller to check it separately.
const (
	OffsetArena = 0x150000

	ArenaMetadataSize = 64 * 1024
	ArenaSlabSize     = 1 * 1024 * 1024 // tiny objects
	ArenaBuddySize    = 8 * 1024 * 1024 // larger blocks

	PriorityNormal   = 0
	PriorityHigh     = 1
	PriorityCritical = 2
)

type ObjectHeap struct {
	heap []byte

	slab  *SlabAllocator
	buddy *BuddyAllocator

	// state is consulted by Allocate, Free, and FreeCache to enforce the
	// heap-access contract (internal/world) before touching either
	// sub-allocator. A nil state disables the check, for callers that want
	// to exercise the sub-allocators in isolation from any quiescence
	// tracking.
	state QuiescenceState

	totalAllocated uint64
	totalFreed     uint64
	allocCount     uint64
	freeCount      uint64

	mu     sync.RWMutex
	owners map[uint32]string
}

// AllocationRequest describes a single object allocation. Owner names the
// managed thread (or collaborator) requesting the memory; ObjectHeap
// records it against the returned offset and Owner recovers it.
type AllocationRequest struct {
	Size      uint32
	Owner     string
	Priority  uint8
	Alignment uint32
	Flags     AllocFlags
}

type AllocFlags uint32

const (
	FlagPersistent AllocFlags = 1 << 0 // survives an unload
	FlagShared     AllocFlags = 1 << 1 // shareable across collaborators
	FlagZeroed     AllocFlags = 1 << 2 // zero on allocation
	FlagGuarded    AllocFlags = 1 << 3 // add guard pages
)

// NewObjectHeap wraps a pre-allocated byte arena with the slab/buddy
// sub-allocators, gating every access through state's quiescence contract.
// The arena is sized statically; growth is out of scope. Pass a nil state
// to disable the access check (tests of the sub-allocators in isolation).
func NewObjectHeap(arena []byte, state QuiescenceState) *ObjectHeap {
	slabOffset := OffsetArena + ArenaMetadataSize
	buddyOffset := slabOffset + ArenaSlabSize

	return &ObjectHeap{
		heap:   arena,
		slab:   NewSlabAllocator(arena, uint32(slabOffset), ArenaSlabSize),
		buddy:  NewBuddyAllocator(arena, uint32(buddyOffset), ArenaBuddySize),
		state:  state,
		owners: make(map[uint32]string),
	}
}

// Allocate routes the request to the slab or buddy sub-allocator based on
// size. threadID identifies the calling thread to the access guard: it
// must either be dependent or be the stopper holding a live episode, or
// Allocate panics via AccessGuard before touching either sub-allocator.
func (h *ObjectHeap) Allocate(threadID string, req AllocationRequest) (uint32, error) {
	h.assertAccess(threadID)

	var offset uint32
	var err error

	switch {
	case req.Size <= 256:
		offset, err = h.slab.Allocate(req.Size)
	case req.Size < MinBuddySize:
		offset, err = h.buddy.Allocate(MinBuddySize)
	default:
		offset, err = h.buddy.Allocate(req.Size)
	}
	if err != nil {
		return 0, err
	}

	if req.Flags&FlagZeroed != 0 {
		h.zero(offset, req.Size)
	}

	h.mu.Lock()
	h.owners[offset] = req.Owner
	h.mu.Unlock()

	atomic.AddUint64(&h.totalAllocated, uint64(req.Size))
	atomic.AddUint64(&h.allocCount, 1)
	return offset, nil
}

// Free releases a previously allocated block. threadID is checked against
// the same access guard as Allocate.
func (h *ObjectHeap) Free(threadID string, offset uint32) error {
	h.assertAccess(threadID)

	slabStart := uint32(OffsetArena + ArenaMetadataSize)
	slabEnd := slabStart + ArenaSlabSize
	buddyStart := slabEnd

	var err error
	switch {
	case offset >= slabStart && offset < slabEnd:
		err = h.slab.Free(offset)
	case offset >= buddyStart:
		err = h.buddy.Free(offset)
	default:
		return fmt.Errorf("memory: invalid offset %d", offset)
	}
	if err == nil {
		h.mu.Lock()
		delete(h.owners, offset)
		h.mu.Unlock()
		atomic.AddUint64(&h.freeCount, 1)
	}
	return err
}

// Owner reports the AllocationRequest.Owner that produced the block at
// offset, if it is still live.
func (h *ObjectHeap) Owner(offset uint32) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	owner, ok := h.owners[offset]
	return owner, ok
}

func (h *ObjectHeap) assertAccess(threadID string) {
	if h.state == nil {
		return
	}
	NewAccessGuard(h.state, threadID).Assert()
}

func (h *ObjectHeap) zero(offset, size uint32) {
	for i := uint32(0); i < size; i++ {
		h.heap[offset+i] = 0
	}
}

type HeapStats struct {
	TotalAllocated uint64
	TotalFreed     uint64
	AllocCount     uint64
	FreeCount      uint64

	SlabStats  []SlabStats
	BuddyStats BuddyStats

	OverallFragmentation float32
}

func (h *ObjectHeap) Stats() HeapStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	slabStats := h.slab.GetStats()
	buddyStats := h.buddy.GetStats()

	totalAllocated := uint64(0)
	totalCapacity := uint64(ArenaSlabSize + ArenaBuddySize)
	for _, s := range slabStats {
		totalAllocated += uint64(s.Allocated * s.ObjectSize)
	}
	totalAllocated += uint64(buddyStats.Allocated)

	fragmentation := float32(0)
	if totalCapacity > 0 {
		utilization := float32(totalAllocated) / float32(totalCapacity)
		fragmentation = (1 - utilization) * 100
	}

	return HeapStats{
		TotalAllocated:       atomic.LoadUint64(&h.totalAllocated),
		TotalFreed:           atomic.LoadUint64(&h.totalFreed),
		AllocCount:           atomic.LoadUint64(&h.allocCount),
		FreeCount:            atomic.LoadUint64(&h.freeCount),
		SlabStats:            slabStats,
		BuddyStats:           buddyStats,
		OverallFragmentation: fragmentation,
	}
}

// FreeCache drops cached, fully-empty slab pages. The collector calls this
// opportunistically while it holds the stop-the-world episode, subject to
// the same access guard as Allocate/Free.
func (h *ObjectHeap) FreeCache(threadID string) uint32 {
	h.assertAccess(threadID)
	return h.slab.FreeEmptySlabs()
}

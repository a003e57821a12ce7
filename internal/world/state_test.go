package world

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoloStop(t *testing.T) {
	s := New()
	require.Equal(t, 1, s.PendingThreads())

	s.WaitTilAlone()
	assert.Equal(t, 0, s.PendingThreads())
	assert.True(t, s.ShouldStop())

	s.RestartWorld()
	assert.Equal(t, 1, s.PendingThreads())
	assert.False(t, s.ShouldStop())
}

func TestTwoThreadStop(t *testing.T) {
	s := New()
	s.pendingThreads = 2 // simulate a second dependent thread (B) joining

	bParked := make(chan struct{})
	go func() {
		for s.PendingThreads() == 2 {
			time.Sleep(time.Millisecond)
		}
		// should_stop is now true; B's next checkpoint parks it.
		s.Checkpoint()
		close(bParked)
	}()

	s.WaitTilAlone()
	assert.Equal(t, 0, s.PendingThreads())

	s.RestartWorld()
	<-bParked
	assert.Equal(t, 2, s.PendingThreads())
	assert.False(t, s.ShouldStop())
	assert.Greater(t, s.TimeWaiting(), uint64(0))
}

func TestIndependentThreadIgnored(t *testing.T) {
	s := New()
	s.pendingThreads = 2 // A and B both dependent

	// B becomes independent.
	s.BecomeIndependent()
	require.Equal(t, 1, s.PendingThreads())

	// A stops the world; only A was pending, and it excuses itself.
	s.WaitTilAlone()
	assert.Equal(t, 0, s.PendingThreads())

	s.RestartWorld()
	assert.Equal(t, 1, s.PendingThreads())

	s.BecomeDependent()
	assert.Equal(t, 2, s.PendingThreads())
}

func TestRacingEntryIntoStop(t *testing.T) {
	s := New()
	s.pendingThreads = 1 // only A is dependent; B starts independent

	s.WaitTilAlone() // A stops the world
	require.Equal(t, 0, s.PendingThreads())
	require.True(t, s.ShouldStop())

	bDone := make(chan struct{})
	go func() {
		s.BecomeDependent() // must block until A restarts
		close(bDone)
	}()

	select {
	case <-bDone:
		t.Fatal("become_dependent returned while should_stop is still true")
	case <-time.After(20 * time.Millisecond):
	}

	s.RestartWorld()

	select {
	case <-bDone:
	case <-time.After(time.Second):
		t.Fatal("become_dependent never unblocked after restart")
	}
	assert.Equal(t, 2, s.PendingThreads())
}

func TestIndependentDuringStop(t *testing.T) {
	s := New()
	s.pendingThreads = 2 // A and B dependent

	bDone := make(chan struct{})
	go func() {
		// B participates in the stop (wait_to_run) before excusing itself.
		for s.PendingThreads() == 2 {
			time.Sleep(time.Millisecond)
		}
		s.BecomeIndependent()
		close(bDone)
	}()

	s.WaitTilAlone()
	assert.Equal(t, 0, s.PendingThreads())
	s.RestartWorld() // B stays parked in BecomeIndependent until the restart
	<-bDone
}

func TestPostForkReinit(t *testing.T) {
	s := New()
	s.pendingThreads = 5
	s.timeWaiting.Store(123456)

	s.Reinit()
	assert.Equal(t, 1, s.PendingThreads())
	assert.False(t, s.ShouldStop())
	assert.Equal(t, uint64(0), s.TimeWaiting())

	// Mutex and condvars must be usable post-reinit.
	s.WaitTilAlone()
	s.RestartWorld()
}

func TestBecomeIndependentThenDependentRestoresCount(t *testing.T) {
	s := New()
	before := s.PendingThreads()
	s.BecomeIndependent()
	s.BecomeDependent()
	assert.Equal(t, before, s.PendingThreads())
}

func TestStopThenRestartRestoresCountAndClearsFlag(t *testing.T) {
	s := New()
	before := s.PendingThreads()
	s.WaitTilAlone()
	s.RestartWorld()
	assert.Equal(t, before, s.PendingThreads())
	assert.False(t, s.ShouldStop())
}

func TestTimeWaitingNonDecreasing(t *testing.T) {
	s := New()
	var prev uint64
	for i := 0; i < 3; i++ {
		s.WaitTilAlone()
		s.RestartWorld()
		cur := s.TimeWaiting()
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

// TestManyCheckpointersConverge hammers Checkpoint from many goroutines
// while repeated stop/restart cycles run concurrently, checking that
// pending_threads never dips below zero and every episode completes.
func TestManyCheckpointersConverge(t *testing.T) {
	s := New()
	const workers = 8
	s.pendingThreads = workers + 1 // +1 for the stopper itself

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Checkpoint()
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		s.WaitTilAlone()
		assert.Equal(t, 0, s.PendingThreads())
		s.RestartWorld()
	}

	close(stop)
	wg.Wait()
}

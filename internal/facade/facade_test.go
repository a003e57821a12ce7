package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos_core/internal/config"
)

func newTestState(t *testing.T) *SharedState {
	t.Helper()
	cfg := config.Default()
	cfg.Preempt.Enabled = false
	arena := make([]byte, 16*1024*1024)
	s := New(cfg, arena)
	t.Cleanup(func() { s.Timer.Disable() })
	return s
}

func TestNewVMRegistersThreadAndBumpsRefcount(t *testing.T) {
	s := newTestState(t)
	assert.EqualValues(t, 1, s.Refs())

	var frame uintptr
	th := s.NewVM("vm-1", &frame)
	assert.EqualValues(t, 2, s.Refs())
	assert.Equal(t, 1, s.ThreadCount())
	assert.True(t, th.IsRoot, "the first registered thread is designated root")

	s.RemoveVM(th)
	assert.EqualValues(t, 1, s.Refs())
	assert.Equal(t, 0, s.ThreadCount())
}

func TestRemoveVMReleasesOnlyItsOwnReference(t *testing.T) {
	s := newTestState(t)

	var frame uintptr
	th := s.NewVM("vm-1", &frame)
	assert.EqualValues(t, 2, s.Refs())

	s.RemoveVM(th)
	assert.EqualValues(t, 1, s.Refs())

	var frame2 uintptr
	th2 := s.NewVM("vm-2", &frame2)
	s.RemoveVM(th2)
	// The reference New handed to the caller is still held.
	assert.EqualValues(t, 1, s.Refs())
}

func TestAddRemoveManagedThreadTracksRegistryAndWorld(t *testing.T) {
	s := newTestState(t)

	var frame uintptr
	th := s.AddManagedThread("worker-0", &frame)
	assert.Equal(t, 1, s.ThreadCount())
	assert.Equal(t, 2, s.PendingThreads()) // bootstrap thread + worker-0

	s.RemoveManagedThread(th)
	assert.Equal(t, 0, s.ThreadCount())
	assert.Equal(t, 1, s.PendingThreads())
}

func TestStopTheWorldReturnsOnceManagedThreadParks(t *testing.T) {
	s := newTestState(t)

	var frame uintptr
	th := s.AddManagedThread("worker-0", &frame)
	defer s.RemoveManagedThread(th)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				s.Checkpoint() // no-op until ShouldStop is set, parks once it is
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	stopped := make(chan struct{})
	go func() {
		s.StopTheWorld("collector")
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopTheWorld never returned")
	}
	assert.True(t, s.ShouldStop())

	s.RestartWorld()
}

func TestReinitResetsWorldRegistryAndConfig(t *testing.T) {
	s := newTestState(t)

	var frame uintptr
	s.AddManagedThread("worker-0", &frame)
	require.Equal(t, 1, s.ThreadCount())

	require.NotEmpty(t, s.config.Agent.Addr)

	s.Reinit()

	assert.Equal(t, 0, s.ThreadCount())
	assert.Equal(t, 1, s.PendingThreads())
	assert.False(t, s.ShouldStop())
	assert.Empty(t, s.config.Agent.Addr)
}

func TestQuiescenceStateDuringEpisode(t *testing.T) {
	s := newTestState(t)

	var frame uintptr
	th := s.AddManagedThread("worker-0", &frame)
	defer s.RemoveManagedThread(th)

	assert.True(t, s.ThreadIsDependent("worker-0"))
	assert.False(t, s.ThreadIsDependent("stranger"))
	assert.False(t, s.StopperHoldsEpisode("collector"), "no episode is open yet")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				s.Checkpoint()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	stopped := make(chan struct{})
	go func() {
		s.StopTheWorld("collector")
		close(stopped)
	}()

	select {
	case <-stopped:
		assert.True(t, s.StopperHoldsEpisode("collector"))
		assert.False(t, s.StopperHoldsEpisode("worker-0"))
	case <-time.After(time.Second):
		t.Fatal("StopTheWorld never returned")
	}

	s.RestartWorld()
	close(stop)
	<-done

	assert.False(t, s.StopperHoldsEpisode("collector"), "episode ended")
}

func TestShutdownRunsRegisteredFunctionsInLIFOOrder(t *testing.T) {
	s := newTestState(t)

	var order []int
	s.RegisterShutdown(func() error { order = append(order, 1); return nil })
	s.RegisterShutdown(func() error { order = append(order, 2); return nil })

	err := s.Shutdown(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, order)
}

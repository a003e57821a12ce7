// Package preempt runs the dedicated OS thread that bounds the latency
// between a stop-the-world request and the next checkpoint a managed
// thread reaches. Without it, a tight compute loop between checkpoints
// could delay a stop episode arbitrarily.
package preempt

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/inos_core/kernel/utils"
)

// Period is the compile-time constant interval at which the timer raises
// the interrupt flag.
const Period = 10 * time.Millisecond

// Timer owns the shared interrupt flag that managed threads consult in
// their dispatch loop. Observing it set should cause a thread to reach a
// Checkpoint shortly.
type Timer struct {
	interrupt atomic.Bool
	enabled   atomic.Bool
	once      sync.Once
	logger    *utils.Logger
}

// New returns a Timer that has not yet started its background thread.
func New(logger *utils.Logger) *Timer {
	if logger == nil {
		logger = utils.DefaultLogger("preempt")
	}
	return &Timer{logger: logger}
}

// Interrupted reports and clears the interrupt flag in one step, the way a
// dispatch loop would: "was I asked to reach a checkpoint since I last
// looked?"
func (t *Timer) Interrupted() bool {
	return t.interrupt.Swap(false)
}

// Peek reports the interrupt flag without clearing it.
func (t *Timer) Peek() bool {
	return t.interrupt.Load()
}

// Enable starts the dedicated timer thread. It is idempotent: only the
// first call actually spawns the thread, whether or not thread creation
// succeeds; callers that need to know about a creation failure should
// treat it as fatal, per the core's error-handling policy.
func (t *Timer) Enable() {
	t.enabled.Store(true)
	t.once.Do(func() {
		go t.run()
	})
}

// Disable stops the timer from raising the interrupt flag. The thread
// keeps running (it never terminates short of process exit) but the loop
// becomes a no-op sleep.
func (t *Timer) Disable() {
	t.enabled.Store(false)
}

func (t *Timer) run() {
	runtime.LockOSThread()
	if err := maskAllSignals(); err != nil {
		t.logger.Fatal("preempt: failed to mask signals on timer thread", utils.Err(err))
	}

	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for range ticker.C {
		if t.enabled.Load() {
			t.interrupt.Store(true)
		}
	}
}

//go:build linux

package preempt

import "golang.org/x/sys/unix"

// maskAllSignals blocks every signal on the calling OS thread so the kernel
// never targets this thread for delivery. The timer thread has no signal
// handlers and nothing useful to do with one; masking removes the need to
// reason about signal-safety in its loop.
func maskAllSignals() error {
	var full unix.Sigset_t
	unix.Sigfillset(&full)
	return unix.PthreadSigmask(unix.SIG_SETMASK, &full, nil)
}

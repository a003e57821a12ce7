// Package nativecall is the trampoline the world-coordination core hands
// off to whenever a managed thread calls into native code it does not
// control: a compiled WebAssembly extension. The core's only interest in
// a native call is that the calling thread becomes independent for its
// duration, so a stop-the-world request is never blocked on a potentially
// long-running or blocking native frame.
package nativecall

import (
	"fmt"

	"github.com/nmxmxh/inos_core/internal/world"
	wasmer "github.com/wasmerio/wasmer-go/wasmer"
)

// Quiescer is the subset of world.State a trampoline needs: the two
// dependence calls that bracket a native call. It is an interface rather
// than a concrete *world.State so a call site can be tested with a fake.
type Quiescer interface {
	BecomeIndependent()
	BecomeDependent()
}

var _ Quiescer = (*world.State)(nil)

// Trampoline compiles and executes WebAssembly extension modules on
// behalf of a managed thread, dropping that thread out of the
// dependent set for the duration of the call.
type Trampoline struct {
	world Quiescer
}

// New returns a Trampoline that brackets every call with the given
// world's independence protocol.
func New(w Quiescer) *Trampoline {
	return &Trampoline{world: w}
}

// Call compiles wasmBytes and invokes its "run" export with input,
// returning the export's return value verbatim. The calling goroutine is
// marked independent for the full compile-and-run duration: a
// stop-the-world episode started by another thread proceeds without
// waiting on this call, and the compile-and-run step never observes
// shouldStop. Entering and leaving the bracket can block while an episode
// is in progress: BecomeIndependent first parks like a checkpoint, and
// BecomeDependent waits for the restart.
func (t *Trampoline) Call(wasmBytes, input []byte) ([]byte, error) {
	t.world.BecomeIndependent()
	defer t.world.BecomeDependent()

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("nativecall: compile module: %w", err)
	}

	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("nativecall: instantiate module: %w", err)
	}

	run, err := instance.Exports.GetFunction("run")
	if err != nil {
		return nil, fmt.Errorf("nativecall: missing export %q: %w", "run", err)
	}

	result, err := run(input)
	if err != nil {
		return nil, fmt.Errorf("nativecall: run: %w", err)
	}

	out, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("nativecall: export %q returned %T, want []byte", "run", result)
	}
	return out, nil
}

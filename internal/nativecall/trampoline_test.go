package nativecall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorld struct {
	independentCount int
	dependentCount   int
}

func (f *fakeWorld) BecomeIndependent() { f.independentCount++ }
func (f *fakeWorld) BecomeDependent()   { f.dependentCount++ }

func TestCallRejectsInvalidModule(t *testing.T) {
	fw := &fakeWorld{}
	tr := New(fw)

	_, err := tr.Call([]byte("not a wasm module"), nil)
	require.Error(t, err)
}

func TestCallAlwaysBracketsWithIndependence(t *testing.T) {
	fw := &fakeWorld{}
	tr := New(fw)

	// The module is intentionally invalid: the assertion under test is
	// that independence is entered and exited even when compilation
	// fails partway through the call.
	_, _ = tr.Call([]byte("not a wasm module"), nil)

	assert.Equal(t, 1, fw.independentCount)
	assert.Equal(t, 1, fw.dependentCount)
}

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeQuiescenceState struct {
	dependent map[string]bool
	stopper   string
}

func (f *fakeQuiescenceState) ThreadIsDependent(threadID string) bool {
	return f.dependent[threadID]
}

func (f *fakeQuiescenceState) StopperHoldsEpisode(threadID string) bool {
	return f.stopper == threadID
}

func TestAccessGuardAllowsDependentThread(t *testing.T) {
	state := &fakeQuiescenceState{dependent: map[string]bool{"worker-0": true}}
	g := NewAccessGuard(state, "worker-0")

	assert.NotPanics(t, func() { g.Assert() })
}

func TestAccessGuardAllowsStopperDuringEpisode(t *testing.T) {
	state := &fakeQuiescenceState{dependent: map[string]bool{}, stopper: "collector"}
	g := NewAccessGuard(state, "collector")

	assert.NotPanics(t, func() { g.Assert() })
}

func TestAccessGuardPanicsForUnrelatedThread(t *testing.T) {
	state := &fakeQuiescenceState{dependent: map[string]bool{}, stopper: "collector"}
	g := NewAccessGuard(state, "bystander")

	assert.Panics(t, func() { g.Assert() })
}

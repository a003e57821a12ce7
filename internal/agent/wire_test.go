package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Snapshot{
		PendingThreads: 4,
		TimeWaitingNs:  123456789,
		ShouldStop:     true,
		ThreadCount:    5,
	}

	got, err := DecodeSnapshot(EncodeSnapshot(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncodeDecodeZeroValue(t *testing.T) {
	got, err := DecodeSnapshot(EncodeSnapshot(Snapshot{}))
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, got)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	want := Snapshot{PendingThreads: 2, ThreadCount: 2}
	buf := EncodeSnapshot(want)

	// Append an unknown field (tag 9, varint) the decoder has no case for.
	extra := append([]byte{}, buf...)
	extra = append(extra, 0x48, 0x2a) // field 9, varint value 42

	got, err := DecodeSnapshot(extra)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeMalformedBytesErrors(t *testing.T) {
	_, err := DecodeSnapshot([]byte{0xff})
	assert.Error(t, err)
}

package agent

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Snapshot is the diagnostic payload a query returns: everything a remote
// operator would want to know about the state of the world-coordination
// core without being able to touch it directly.
type Snapshot struct {
	PendingThreads uint64
	TimeWaitingNs  uint64
	ShouldStop     bool
	ThreadCount    uint64
}

const (
	fieldPendingThreads = 1
	fieldTimeWaitingNs  = 2
	fieldShouldStop     = 3
	fieldThreadCount    = 4
)

// EncodeSnapshot writes s as a low-level protobuf wire message, with no
// length prefix. There is no generated .proto/.pb.go pair backing this format:
// the four fields are few and stable enough that protowire's append-only
// API is the simpler, equally-valid way to produce wire-compatible bytes.
func EncodeSnapshot(s Snapshot) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldPendingThreads, protowire.VarintType)
	buf = protowire.AppendVarint(buf, s.PendingThreads)

	buf = protowire.AppendTag(buf, fieldTimeWaitingNs, protowire.VarintType)
	buf = protowire.AppendVarint(buf, s.TimeWaitingNs)

	buf = protowire.AppendTag(buf, fieldShouldStop, protowire.VarintType)
	buf = protowire.AppendVarint(buf, boolToVarint(s.ShouldStop))

	buf = protowire.AppendTag(buf, fieldThreadCount, protowire.VarintType)
	buf = protowire.AppendVarint(buf, s.ThreadCount)

	return buf
}

// DecodeSnapshot parses bytes produced by EncodeSnapshot. Unknown fields
// are skipped rather than rejected, the usual protobuf forward-compat
// rule.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Snapshot{}, fmt.Errorf("agent: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Snapshot{}, fmt.Errorf("agent: malformed field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return Snapshot{}, fmt.Errorf("agent: malformed varint for field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldPendingThreads:
			s.PendingThreads = v
		case fieldTimeWaitingNs:
			s.TimeWaitingNs = v
		case fieldShouldStop:
			s.ShouldStop = v != 0
		case fieldThreadCount:
			s.ThreadCount = v
		}
	}
	return s, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

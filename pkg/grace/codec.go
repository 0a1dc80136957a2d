package grace

import "encoding/binary"

// payloadSize is the fixed width of the grace object's data payload:
// two little-endian uint64 values, C then R.
const payloadSize = 16

// epochs is the decoded form of the grace object's data payload.
type epochs struct {
	C uint64
	R uint64
}

func encodeEpochs(e epochs) []byte {
	buf := make([]byte, payloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], e.C)
	binary.LittleEndian.PutUint64(buf[8:16], e.R)
	return buf
}

func decodeEpochs(payload []byte) (epochs, error) {
	if len(payload) != payloadSize {
		return epochs{}, newCorruptionError("payload size is %d bytes, want %d", len(payload), payloadSize)
	}
	return epochs{
		C: binary.LittleEndian.Uint64(payload[0:8]),
		R: binary.LittleEndian.Uint64(payload[8:16]),
	}, nil
}

// node-map value blob: a single flag byte encoding (M, E, N).
const (
	flagMember    byte = 1 << 0
	flagEnforcing byte = 1 << 1
	flagNeedGrace byte = 1 << 2
)

// nodeFlags is the decoded form of a node-map entry's value blob.
type nodeFlags struct {
	Member    bool
	Enforcing bool
	NeedGrace bool
}

func (f nodeFlags) isZero() bool {
	return !f.Member && !f.Enforcing && !f.NeedGrace
}

func encodeNodeFlags(f nodeFlags) []byte {
	var b byte
	if f.Member {
		b |= flagMember
	}
	if f.Enforcing {
		b |= flagEnforcing
	}
	if f.NeedGrace {
		b |= flagNeedGrace
	}
	return []byte{b}
}

func decodeNodeFlags(value []byte) nodeFlags {
	if len(value) == 0 {
		return nodeFlags{}
	}
	b := value[0]
	return nodeFlags{
		Member:    b&flagMember != 0,
		Enforcing: b&flagEnforcing != 0,
		NeedGrace: b&flagNeedGrace != 0,
	}
}

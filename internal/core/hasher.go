package core

import (
	"crypto/sha256"
	"encoding/binary"

	"LyraeLedger/internal/event"
)

const GenesisHashSeed = "LyraeLedger:genesis:v1"

// StateHasher links every audit envelope to the one before it. The hash of
// envelope n is
//
//	SHA-256(prev || sequence || len(key) || key || type || state digest || payload)
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// RestoreStateHasher continues the chain from tip.
func RestoreStateHasher(tip [32]byte) *StateHasher {
	return &StateHasher{tip: tip}
}

// Seal sets env's PrevHash and StateHash and advances the tip.
func (h *StateHasher) Seal(env *event.Envelope, stateDigest []byte) {
	var buf [8]byte
	d := sha256.New()
	d.Write(h.tip[:])
	binary.BigEndian.PutUint64(buf[:], uint64(env.Sequence))
	d.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(len(env.IntentKey)))
	d.Write(buf[:4])
	d.Write([]byte(env.IntentKey))
	binary.BigEndian.PutUint32(buf[:4], uint32(env.Type))
	d.Write(buf[:4])
	d.Write(stateDigest)
	d.Write(env.Payload)

	env.PrevHash = h.tip
	copy(h.tip[:], d.Sum(nil))
	env.StateHash = h.tip
}

// Tip returns the hash of the last sealed envelope.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}

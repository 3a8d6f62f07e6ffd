package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "ExchangeLedger:genesis:v1"

// GenesisHash is the chain tip before the first event.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher maintains the event hash chain:
// state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// Next returns the hash for sequence without advancing the chain.
func (h *StateHasher) Next(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Advance moves the chain tip to hash.
func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// Reset restarts the chain from a recovered tip.
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

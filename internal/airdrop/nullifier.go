package airdrop

import (
	"fmt"
	"math/big"
	"sync"

	"zkdrop/internal/storage"
)

var nullifierPrefix = []byte("n:") // nullifierPrefix + 32-byte nullifier -> marker

// Ledger is the set of consumed nullifiers, the sole source of replay
// protection. Marks are global across airdrops and never expire.
//
// The ledger itself only answers point queries; the claim engine is
// responsible for running the used-check and the mark inside one critical
// section so two racing claims with the same nullifier cannot both pass.
type Ledger struct {
	mu    sync.RWMutex
	db    *storage.Storage
	cache map[[32]byte]struct{}
}

// NewLedger creates a ledger backed by the given store, loading previously
// consumed nullifiers into memory.
func NewLedger(db *storage.Storage) (*Ledger, error) {
	l := &Ledger{
		db:    db,
		cache: make(map[[32]byte]struct{}),
	}

	err := db.IteratePrefix(nullifierPrefix, func(key, _ []byte) error {
		if len(key) != len(nullifierPrefix)+32 {
			return fmt.Errorf("malformed nullifier key of %d bytes", len(key))
		}

		var n [32]byte
		copy(n[:], key[len(nullifierPrefix):])
		l.cache[n] = struct{}{}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load nullifier set:\n%w", err)
	}

	return l, nil
}

// nullifierKey returns the storage key for a nullifier.
func nullifierKey(n [32]byte) []byte {
	key := make([]byte, len(nullifierPrefix)+32)
	copy(key, nullifierPrefix)
	copy(key[len(nullifierPrefix):], n[:])
	return key
}

// toBytes32 canonicalizes a field element to its 32-byte big-endian form.
func toBytes32(v *big.Int) [32]byte {
	var out [32]byte
	v.FillBytes(out[:])
	return out
}

// IsUsed reports whether a nullifier was consumed by a previous claim.
func (l *Ledger) IsUsed(nullifier *big.Int) bool {
	n := toBytes32(nullifier)

	l.mu.RLock()
	defer l.mu.RUnlock()

	_, used := l.cache[n]
	return used
}

// MarkUsed marks a nullifier as consumed. Callers must have checked IsUsed
// first; marking an already-used nullifier is a caller bug, not a state the
// ledger recovers from.
func (l *Ledger) MarkUsed(nullifier *big.Int) error {
	n := toBytes32(nullifier)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Set(nullifierKey(n), []byte{1}); err != nil {
		return fmt.Errorf("persist nullifier:\n%w", err)
	}
	l.cache[n] = struct{}{}

	return nil
}

// unmark reverses a MarkUsed. Only the claim engine's failed-transfer
// rollback path may call this.
func (l *Ledger) unmark(nullifier *big.Int) error {
	n := toBytes32(nullifier)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Delete(nullifierKey(n)); err != nil {
		return fmt.Errorf("delete nullifier:\n%w", err)
	}
	delete(l.cache, n)

	return nil
}

// Count returns the number of consumed nullifiers.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.cache)
}

package airdrop

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkdrop/internal/storage"
)

var (
	recordPrefix = []byte("a:")      // recordPrefix + 8-byte BE id -> encoded record
	counterKey   = []byte("a:next")  // counterKey -> 8-byte BE next id
)

// Registry holds airdrop records and the monotonic id counter.
// Ids start at 1; 0 is reserved as "no such airdrop" and is never assigned.
type Registry struct {
	mu      sync.Mutex
	db      *storage.Storage
	emitter Emitter
	next    uint64 // next id to assign
}

// NewRegistry creates a registry backed by the given store, restoring the
// id counter from a previous run if present.
func NewRegistry(db *storage.Storage, emitter Emitter) (*Registry, error) {
	r := &Registry{
		db:      db,
		emitter: emitter,
		next:    1,
	}

	data, err := db.Get(counterKey)
	if err != nil {
		return nil, fmt.Errorf("load airdrop counter:\n%w", err)
	}
	if len(data) == 8 {
		r.next = binary.BigEndian.Uint64(data)
	}

	return r, nil
}

// recordKey returns the storage key for an airdrop id.
func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

// Create allocates the next id and stores a new record with the caller as
// manager. Token, holder, and amount are stored as given, without
// validation; a bad record simply produces claims whose transfers fail.
func (r *Registry) Create(caller common.Address, groupID uint64, token, holder common.Address, amount *uint256.Int) (uint64, error) {
	if amount == nil {
		amount = uint256.NewInt(0)
	}

	record := Airdrop{
		GroupID: groupID,
		Token:   token,
		Manager: caller,
		Holder:  holder,
		Amount:  amount.Clone(),
	}

	r.mu.Lock()
	id := r.next
	r.next++

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], r.next)

	// Record and counter commit together so a restart never reuses an id.
	err := r.db.SetBatch([]storage.KeyValue{
		{Key: recordKey(id), Value: record.encode()},
		{Key: counterKey, Value: counter[:]},
	})
	r.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("persist airdrop %d:\n%w", id, err)
	}

	r.emitter.AirdropCreated(id, record)

	return id, nil
}

// Get returns the record for an id, or false if the id was never assigned.
func (r *Registry) Get(id uint64) (Airdrop, bool) {
	if id == 0 {
		return Airdrop{}, false
	}

	data, err := r.db.Get(recordKey(id))
	if err != nil || data == nil {
		return Airdrop{}, false
	}

	record, err := decodeAirdrop(data)
	if err != nil {
		return Airdrop{}, false
	}

	return record, true
}

// Update replaces the whole record for an id, including manager and holder,
// so a manager can hand off management by naming a new manager in the
// replacement. Fails with ErrUnauthorized unless the caller is the stored
// manager; an absent record has no manager any caller can match, so updates
// of unknown ids fail the same way.
func (r *Registry) Update(caller common.Address, id uint64, record Airdrop) error {
	if record.Amount == nil {
		record.Amount = uint256.NewInt(0)
	}
	record.Amount = record.Amount.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.Get(id)
	if !ok || current.Manager != caller {
		return ErrUnauthorized
	}

	if err := r.db.Set(recordKey(id), record.encode()); err != nil {
		return fmt.Errorf("persist airdrop %d:\n%w", id, err)
	}

	r.emitter.AirdropUpdated(id, record)

	return nil
}

// Count returns the number of airdrops created so far.
func (r *Registry) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.next - 1
}

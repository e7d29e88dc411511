package airdrop

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkdrop/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Storage, *memEmitter) {
	t.Helper()

	db, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emitter := &memEmitter{}
	registry, err := NewRegistry(db, emitter)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	return registry, db, emitter
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	registry, _, emitter := newTestRegistry(t)

	for want := uint64(1); want <= 3; want++ {
		id, err := registry.Create(testManager, 1, testToken, testHolder, uint256.NewInt(5))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Errorf("got id %d, want %d", id, want)
		}
	}

	if got := registry.Count(); got != 3 {
		t.Errorf("got count %d, want 3", got)
	}
	if len(emitter.created) != 3 {
		t.Errorf("got %d created events, want 3", len(emitter.created))
	}
}

func TestCreateStoresRecordVerbatim(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// Zero amounts and arbitrary addresses are accepted; a bad record
	// just produces claims whose transfers fail.
	id, err := registry.Create(testManager, 42, common.Address{}, common.Address{}, uint256.NewInt(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	record, ok := registry.Get(id)
	if !ok {
		t.Fatal("record not found")
	}
	if record.GroupID != 42 || record.Manager != testManager {
		t.Errorf("record mismatch: %+v", record)
	}
	if !record.Amount.IsZero() {
		t.Errorf("got amount %s, want 0", record.Amount.Dec())
	}
}

func TestGetUnknownID(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	for _, id := range []uint64{0, 1, 99} {
		if _, ok := registry.Get(id); ok {
			t.Errorf("id %d: got record, want absent", id)
		}
	}
}

func TestUpdateAuthorization(t *testing.T) {
	registry, _, emitter := newTestRegistry(t)

	id, err := registry.Create(testManager, 1, testToken, testHolder, uint256.NewInt(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	replacement := Airdrop{
		GroupID: 2,
		Token:   testToken,
		Manager: testManager,
		Holder:  testHolder,
		Amount:  uint256.NewInt(10),
	}

	// The holder is not the manager.
	if err := registry.Update(testHolder, id, replacement); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("holder update: got %v, want ErrUnauthorized", err)
	}

	// Unknown ids fail the same way, never silently succeed.
	if err := registry.Update(testManager, id+1, replacement); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown id update: got %v, want ErrUnauthorized", err)
	}

	if err := registry.Update(testManager, id, replacement); err != nil {
		t.Fatalf("manager update: %v", err)
	}

	record, _ := registry.Get(id)
	if record.GroupID != 2 || !record.Amount.Eq(uint256.NewInt(10)) {
		t.Errorf("update not applied: %+v", record)
	}
	if len(emitter.updated) != 1 {
		t.Errorf("got %d updated events, want 1", len(emitter.updated))
	}
}

func TestUpdateTransfersManagement(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	id, _ := registry.Create(testManager, 1, testToken, testHolder, uint256.NewInt(5))

	newManager := common.HexToAddress("0x9999999999999999999999999999999999999999")
	handoff := Airdrop{GroupID: 1, Token: testToken, Manager: newManager, Holder: testHolder, Amount: uint256.NewInt(5)}

	if err := registry.Update(testManager, id, handoff); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	// The old manager lost control, the new one has it.
	if err := registry.Update(testManager, id, handoff); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("old manager update: got %v, want ErrUnauthorized", err)
	}
	if err := registry.Update(newManager, id, handoff); err != nil {
		t.Errorf("new manager update: %v", err)
	}
}

func TestCounterSurvivesRestart(t *testing.T) {
	registry, db, emitter := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		if _, err := registry.Create(testManager, 1, testToken, testHolder, uint256.NewInt(5)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// A registry reopened over the same store continues the sequence,
	// never reusing an id.
	reopened, err := NewRegistry(db, emitter)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}

	id, err := reopened.Create(testManager, 1, testToken, testHolder, uint256.NewInt(5))
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}
	if id != 4 {
		t.Errorf("got id %d, want 4", id)
	}

	if record, ok := reopened.Get(2); !ok || record.GroupID != 1 {
		t.Errorf("record 2 lost across restart: %+v ok=%v", record, ok)
	}
}

func TestConcurrentCreatesNeverCollide(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	const creators = 16
	ids := make(chan uint64, creators)

	var wg sync.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id, err := registry.Create(testManager, 1, testToken, testHolder, uint256.NewInt(1))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("id %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != creators {
		t.Errorf("got %d distinct ids, want %d", len(seen), creators)
	}
}

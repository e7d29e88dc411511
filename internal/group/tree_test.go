package group

import (
	"math/big"
	"testing"

	"zkdrop/internal/storage"
)

// testDepth keeps unit-test trees small; the circuit depth is exercised
// by the zk package's end-to-end test.
const testDepth = 4

func TestEmptyTreeRoot(t *testing.T) {
	tree, err := NewTree(testDepth)
	if err != nil {
		t.Fatal(err)
	}

	// The empty root is the zero subtree hash of full height.
	want := big.NewInt(0)
	for i := 0; i < testDepth; i++ {
		want = HashPair(want, want)
	}

	if tree.Root().Cmp(want) != 0 {
		t.Errorf("got root %s, want %s", tree.Root(), want)
	}
}

func TestInsertChangesRoot(t *testing.T) {
	tree, _ := NewTree(testDepth)
	empty := tree.Root()

	index, err := tree.Insert(big.NewInt(11))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if index != 0 {
		t.Errorf("got index %d, want 0", index)
	}

	if tree.Root().Cmp(empty) == 0 {
		t.Error("root unchanged after insert")
	}
	if tree.Size() != 1 {
		t.Errorf("got size %d, want 1", tree.Size())
	}
}

func TestInsertRejectsOversizedLeaf(t *testing.T) {
	tree, _ := NewTree(testDepth)

	huge := new(big.Int).Lsh(big.NewInt(1), 260)
	if _, err := tree.Insert(huge); err == nil {
		t.Error("oversized leaf accepted")
	}
}

func TestTreeCapacity(t *testing.T) {
	tree, _ := NewTree(2)

	for i := 0; i < 4; i++ {
		if _, err := tree.Insert(big.NewInt(int64(i + 1))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if _, err := tree.Insert(big.NewInt(5)); err == nil {
		t.Error("insert into full tree accepted")
	}
}

func TestProofVerifies(t *testing.T) {
	tree, _ := NewTree(testDepth)

	leaves := []*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)}
	for _, leaf := range leaves {
		if _, err := tree.Insert(leaf); err != nil {
			t.Fatal(err)
		}
	}

	for i, leaf := range leaves {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		if !tree.Verify(leaf, proof) {
			t.Errorf("proof for leaf %d does not verify", i)
		}
		// A proof for one leaf must not verify another.
		if tree.Verify(big.NewInt(999), proof) {
			t.Errorf("proof %d verifies a foreign leaf", i)
		}
	}

	if _, err := tree.Proof(len(leaves)); err == nil {
		t.Error("proof for absent leaf accepted")
	}
}

func TestProofTracksLaterInserts(t *testing.T) {
	tree, _ := NewTree(testDepth)

	tree.Insert(big.NewInt(1))
	proofBefore, _ := tree.Proof(0)

	tree.Insert(big.NewInt(2))

	// The old proof no longer leads to the new root; a fresh one does.
	if tree.Verify(big.NewInt(1), proofBefore) {
		t.Error("stale proof verifies against the new root")
	}

	proofAfter, _ := tree.Proof(0)
	if !tree.Verify(big.NewInt(1), proofAfter) {
		t.Error("fresh proof does not verify")
	}
}

func newTestManager(t *testing.T) (*Manager, *storage.Storage) {
	t.Helper()

	db, err := storage.NewMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db)
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	return m, db
}

func TestManagerCreateAndAdd(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Create(testDepth)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if id != 1 {
		t.Errorf("got group id %d, want 1", id)
	}

	index, err := m.AddMember(id, big.NewInt(7))
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if index != 0 {
		t.Errorf("got index %d, want 0", index)
	}

	root, err := m.Root(id)
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasRoot(id, root) {
		t.Error("current root not recognized")
	}

	if _, err := m.AddMember(99, big.NewInt(1)); err == nil {
		t.Error("add to unknown group accepted")
	}
}

func TestManagerRootHistory(t *testing.T) {
	m, _ := newTestManager(t)

	id, _ := m.Create(testDepth)
	m.AddMember(id, big.NewInt(1))

	oldRoot, _ := m.Root(id)

	// A member insertion between proof generation and claim submission
	// must not invalidate the in-flight proof.
	m.AddMember(id, big.NewInt(2))

	if !m.HasRoot(id, oldRoot) {
		t.Error("recent past root rejected")
	}

	if m.HasRoot(id, big.NewInt(424242)) {
		t.Error("arbitrary root accepted")
	}
	if m.HasRoot(99, oldRoot) {
		t.Error("root accepted for unknown group")
	}
}

func TestManagerRestoresFromStorage(t *testing.T) {
	m, db := newTestManager(t)

	id, _ := m.Create(testDepth)
	m.AddMember(id, big.NewInt(5))
	m.AddMember(id, big.NewInt(6))

	root, _ := m.Root(id)

	reopened, err := NewManager(db)
	if err != nil {
		t.Fatalf("reopen manager: %v", err)
	}

	restoredRoot, err := reopened.Root(id)
	if err != nil {
		t.Fatalf("restored group missing: %v", err)
	}
	if restoredRoot.Cmp(root) != 0 {
		t.Error("restored root differs from original")
	}

	size, _ := reopened.Size(id)
	if size != 2 {
		t.Errorf("got %d members after restore, want 2", size)
	}

	// The id sequence continues after restore.
	next, err := reopened.Create(testDepth)
	if err != nil {
		t.Fatal(err)
	}
	if next != 2 {
		t.Errorf("got group id %d, want 2", next)
	}
}

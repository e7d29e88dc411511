package zk

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/ethereum/go-ethereum/common"

	"zkdrop/internal/airdrop"
	"zkdrop/internal/group"
)

var (
	keysOnce   sync.Once
	sharedKeys *Keys
	keysErr    error
)

// testKeys compiles the circuit and runs setup once for the whole package;
// proving-key generation is far too slow to repeat per test.
func testKeys(t *testing.T) *Keys {
	t.Helper()

	keysOnce.Do(func() {
		ccs, err := Compile()
		if err != nil {
			keysErr = err
			return
		}

		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			keysErr = err
			return
		}

		sharedKeys = &Keys{CCS: ccs, PK: pk, VK: vk}
	})

	if keysErr != nil {
		t.Fatalf("circuit setup: %v", keysErr)
	}

	return sharedKeys
}

// knownRoots is a GroupRoots accepting exactly the listed roots.
type knownRoots struct {
	groupID uint64
	roots   []*big.Int
}

func (k *knownRoots) HasRoot(groupID uint64, root *big.Int) bool {
	if groupID != k.groupID {
		return false
	}
	for _, r := range k.roots {
		if r.Cmp(root) == 0 {
			return true
		}
	}
	return false
}

// claimFixture holds everything a proven claim needs.
type claimFixture struct {
	identity          *Identity
	tree              *group.Tree
	merkle            group.MerkleProof
	root              *big.Int
	signal            *big.Int
	externalNullifier *big.Int
	nullifierHash     *big.Int
	proof             []byte
}

// newClaimFixture inserts a fresh identity into a tree and proves a claim
// bound to the given receiver.
func newClaimFixture(t *testing.T, keys *Keys, receiver common.Address) *claimFixture {
	t.Helper()

	identity, err := NewIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	tree, err := group.NewTree(TreeDepth)
	if err != nil {
		t.Fatal(err)
	}

	// A couple of other members so the path is not all zero siblings.
	other, _ := NewIdentity()
	tree.Insert(other.Commitment())

	index, err := tree.Insert(identity.Commitment())
	if err != nil {
		t.Fatalf("insert commitment: %v", err)
	}

	merkle, err := tree.Proof(index)
	if err != nil {
		t.Fatalf("merkle proof: %v", err)
	}

	deployment := common.HexToAddress("0xd0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0")
	signal := airdrop.SignalHash(receiver)
	externalNullifier := airdrop.ExternalNullifier(deployment, 1)

	prover := NewProver(keys)
	proof, nullifierHash, err := prover.Prove(identity, merkle, tree.Root(), signal, externalNullifier)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	return &claimFixture{
		identity:          identity,
		tree:              tree,
		merkle:            merkle,
		root:              tree.Root(),
		signal:            signal,
		externalNullifier: externalNullifier,
		nullifierHash:     nullifierHash,
		proof:             proof,
	}
}

func TestClaimProofEndToEnd(t *testing.T) {
	keys := testKeys(t)

	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	fx := newClaimFixture(t, keys, receiver)

	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: []*big.Int{fx.root}})

	if err := verifier.Verify(fx.root, 1, fx.signal, fx.nullifierHash, fx.externalNullifier, fx.proof); err != nil {
		t.Fatalf("valid proof rejected: %v", err)
	}

	if fx.nullifierHash.Cmp(fx.identity.NullifierHash(fx.externalNullifier)) != 0 {
		t.Error("prover nullifier hash disagrees with identity derivation")
	}
}

func TestProofBoundToReceiver(t *testing.T) {
	keys := testKeys(t)

	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	attacker := common.HexToAddress("0xbadbadbadbadbadbadbadbadbadbadbadbadbadb")

	fx := newClaimFixture(t, keys, receiver)
	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: []*big.Int{fx.root}})

	// The captured proof replayed with a different receiver's signal must
	// fail verification.
	stolenSignal := airdrop.SignalHash(attacker)
	err := verifier.Verify(fx.root, 1, stolenSignal, fx.nullifierHash, fx.externalNullifier, fx.proof)
	if !errors.Is(err, airdrop.ErrInvalidProof) {
		t.Fatalf("got %v, want ErrInvalidProof for redirected receiver", err)
	}
}

func TestProofBoundToNullifier(t *testing.T) {
	keys := testKeys(t)

	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	fx := newClaimFixture(t, keys, receiver)
	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: []*big.Int{fx.root}})

	// Presenting a different nullifier hash with a valid proof must fail:
	// otherwise a claimer could dodge replay protection.
	forged := new(big.Int).Add(fx.nullifierHash, big.NewInt(1))
	err := verifier.Verify(fx.root, 1, fx.signal, forged, fx.externalNullifier, fx.proof)
	if !errors.Is(err, airdrop.ErrInvalidProof) {
		t.Fatalf("got %v, want ErrInvalidProof for forged nullifier", err)
	}
}

func TestProofBoundToScope(t *testing.T) {
	keys := testKeys(t)

	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	fx := newClaimFixture(t, keys, receiver)
	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: []*big.Int{fx.root}})

	// The same proof under another airdrop's scope must fail; claims on
	// other airdrops need fresh proofs.
	deployment := common.HexToAddress("0xd0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0")
	otherScope := airdrop.ExternalNullifier(deployment, 2)

	err := verifier.Verify(fx.root, 1, fx.signal, fx.nullifierHash, otherScope, fx.proof)
	if !errors.Is(err, airdrop.ErrInvalidProof) {
		t.Fatalf("got %v, want ErrInvalidProof for foreign scope", err)
	}
}

func TestUnknownRootRejected(t *testing.T) {
	keys := testKeys(t)

	receiver := common.HexToAddress("0x4444444444444444444444444444444444444444")
	fx := newClaimFixture(t, keys, receiver)

	// A root no group ever had is rejected before pairing checks run.
	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: nil})

	err := verifier.Verify(fx.root, 1, fx.signal, fx.nullifierHash, fx.externalNullifier, fx.proof)
	if !errors.Is(err, airdrop.ErrInvalidProof) {
		t.Fatalf("got %v, want ErrInvalidProof for unknown root", err)
	}
}

func TestMalformedProofRejected(t *testing.T) {
	keys := testKeys(t)

	verifier := NewVerifier(keys.VK, &knownRoots{groupID: 1, roots: []*big.Int{big.NewInt(1)}})

	err := verifier.Verify(big.NewInt(1), 1, big.NewInt(2), big.NewInt(3), big.NewInt(4), []byte("garbage"))
	if !errors.Is(err, airdrop.ErrInvalidProof) {
		t.Fatalf("got %v, want ErrInvalidProof for malformed bytes", err)
	}
}

func TestNonMemberCannotProve(t *testing.T) {
	keys := testKeys(t)

	identity, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}

	tree, _ := group.NewTree(TreeDepth)
	member, _ := NewIdentity()
	tree.Insert(member.Commitment())

	// A path for someone else's leaf cannot satisfy the circuit with this
	// identity's secrets.
	merkle, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}

	deployment := common.HexToAddress("0xd0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0")
	signal := airdrop.SignalHash(common.Address{1})
	externalNullifier := airdrop.ExternalNullifier(deployment, 1)

	prover := NewProver(keys)
	if _, _, err := prover.Prove(identity, merkle, tree.Root(), signal, externalNullifier); err == nil {
		t.Fatal("non-member produced a proof")
	}
}

func TestIdentityCommitmentsDistinct(t *testing.T) {
	a, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}

	if a.Commitment().Cmp(b.Commitment()) == 0 {
		t.Error("independent identities share a commitment")
	}
	if a.Commitment().Cmp(a.Commitment()) != 0 {
		t.Error("commitment not deterministic")
	}

	// Nullifier hashes are unlinkable across scopes but stable within one.
	s1, s2 := big.NewInt(100), big.NewInt(200)
	if a.NullifierHash(s1).Cmp(a.NullifierHash(s2)) == 0 {
		t.Error("nullifier hash identical across scopes")
	}
	if a.NullifierHash(s1).Cmp(a.NullifierHash(s1)) != 0 {
		t.Error("nullifier hash not deterministic")
	}
}

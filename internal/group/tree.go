// Package group manages membership groups: fixed-depth MiMC Merkle trees
// over identity commitments, with proofs of inclusion for members.
package group

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// DefaultDepth is the tree depth used when a group is created without an
// explicit depth, giving room for 2^20 members.
const DefaultDepth = 20

// HashPair hashes two field elements with BN254 MiMC, the same permutation
// the membership circuit uses, so native roots match in-circuit roots.
func HashPair(left, right *big.Int) *big.Int {
	h := mimc.NewMiMC()

	var e fr.Element
	e.SetBigInt(left)
	b := e.Bytes()
	h.Write(b[:])

	e.SetBigInt(right)
	b = e.Bytes()
	h.Write(b[:])

	return new(big.Int).SetBytes(h.Sum(nil))
}

// MerkleProof is an inclusion path from a leaf to the root.
type MerkleProof struct {
	Siblings []*big.Int // sibling hash per level, leaf level first
	PathBits []uint8    // 1 where the node is a right child
}

// Tree is a fixed-depth Merkle tree over member commitments. Empty slots
// hash as zero leaves.
type Tree struct {
	depth  int
	zeros  []*big.Int   // zeros[l] is the hash of an empty subtree of height l
	leaves []*big.Int
	levels [][]*big.Int // levels[0] == leaves; recomputed on insert
	root   *big.Int
}

// NewTree creates an empty tree of the given depth.
func NewTree(depth int) (*Tree, error) {
	if depth < 1 || depth > 32 {
		return nil, fmt.Errorf("unsupported tree depth %d", depth)
	}

	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for l := 1; l <= depth; l++ {
		zeros[l] = HashPair(zeros[l-1], zeros[l-1])
	}

	return &Tree{
		depth: depth,
		zeros: zeros,
		root:  zeros[depth],
	}, nil
}

// Depth returns the tree depth.
func (t *Tree) Depth() int {
	return t.depth
}

// Size returns the number of inserted leaves.
func (t *Tree) Size() int {
	return len(t.leaves)
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.root)
}

// Insert appends a commitment as the next leaf and returns its index.
// Commitments must be reduced field elements.
func (t *Tree) Insert(commitment *big.Int) (int, error) {
	if commitment.Sign() < 0 || commitment.Cmp(fr.Modulus()) >= 0 {
		return 0, fmt.Errorf("commitment is not a reduced field element")
	}
	if len(t.leaves) >= 1<<t.depth {
		return 0, fmt.Errorf("tree is full at %d leaves", len(t.leaves))
	}

	index := len(t.leaves)
	t.leaves = append(t.leaves, new(big.Int).Set(commitment))
	t.rebuild()

	return index, nil
}

// rebuild recomputes all levels above the leaves. Insertion cost is linear
// in the member count, which is fine at the group sizes this serves.
func (t *Tree) rebuild() {
	t.levels = make([][]*big.Int, t.depth)
	nodes := t.leaves

	for l := 0; l < t.depth; l++ {
		t.levels[l] = nodes

		next := make([]*big.Int, (len(nodes)+1)/2)
		for i := range next {
			left := nodes[2*i]
			right := t.zeros[l]
			if 2*i+1 < len(nodes) {
				right = nodes[2*i+1]
			}
			next[i] = HashPair(left, right)
		}
		nodes = next
	}

	if len(nodes) > 0 {
		t.root = nodes[0]
	} else {
		t.root = t.zeros[t.depth]
	}
}

// Proof returns the inclusion path for the leaf at index.
func (t *Tree) Proof(index int) (MerkleProof, error) {
	if index < 0 || index >= len(t.leaves) {
		return MerkleProof{}, fmt.Errorf("no leaf at index %d", index)
	}

	proof := MerkleProof{
		Siblings: make([]*big.Int, t.depth),
		PathBits: make([]uint8, t.depth),
	}

	idx := index
	for l := 0; l < t.depth; l++ {
		sibIdx := idx ^ 1

		sibling := t.zeros[l]
		if sibIdx < len(t.levels[l]) {
			sibling = t.levels[l][sibIdx]
		}

		proof.Siblings[l] = new(big.Int).Set(sibling)
		proof.PathBits[l] = uint8(idx & 1)
		idx >>= 1
	}

	return proof, nil
}

// Verify recomputes the root from a leaf and proof. Used by tests; the
// authoritative check lives in the circuit.
func (t *Tree) Verify(leaf *big.Int, proof MerkleProof) bool {
	if len(proof.Siblings) != t.depth || len(proof.PathBits) != t.depth {
		return false
	}

	cur := new(big.Int).Set(leaf)
	for l := 0; l < t.depth; l++ {
		if proof.PathBits[l] == 1 {
			cur = HashPair(proof.Siblings[l], cur)
		} else {
			cur = HashPair(cur, proof.Siblings[l])
		}
	}

	return cur.Cmp(t.root) == 0
}

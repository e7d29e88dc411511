package zk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"zkdrop/internal/group"
)

// TreeDepth is the group tree depth the circuit is compiled for. All
// groups served by this deployment use the same depth.
const TreeDepth = group.DefaultDepth

// ClaimCircuit proves membership of a hidden identity in a group tree and
// correct derivation of the scoped nullifier, without revealing which
// member the identity is.
//
// Statement: there exist identity secrets and a Merkle path such that the
// commitment MiMC(MiMC(nullifier, trapdoor)) walked along the path equals
// Root, and NullifierHash = MiMC(ExternalNullifier, nullifier).
type ClaimCircuit struct {
	// Public inputs
	Root              frontend.Variable `gnark:",public"`
	SignalHash        frontend.Variable `gnark:",public"`
	NullifierHash     frontend.Variable `gnark:",public"`
	ExternalNullifier frontend.Variable `gnark:",public"`

	// Private witness
	IdentityNullifier frontend.Variable
	IdentityTrapdoor  frontend.Variable
	Siblings          [TreeDepth]frontend.Variable
	PathBits          [TreeDepth]frontend.Variable
}

func (c *ClaimCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// Identity commitment from the secrets.
	h.Write(c.IdentityNullifier, c.IdentityTrapdoor)
	secret := h.Sum()
	h.Reset()

	h.Write(secret)
	commitment := h.Sum()
	h.Reset()

	// Scoped nullifier must match the public one.
	h.Write(c.ExternalNullifier, c.IdentityNullifier)
	api.AssertIsEqual(c.NullifierHash, h.Sum())
	h.Reset()

	// Merkle walk from the commitment leaf up to the public root.
	cur := commitment
	for i := 0; i < TreeDepth; i++ {
		api.AssertIsBoolean(c.PathBits[i])

		left := api.Select(c.PathBits[i], c.Siblings[i], cur)
		right := api.Select(c.PathBits[i], cur, c.Siblings[i])

		h.Reset()
		h.Write(left, right)
		cur = h.Sum()
	}
	api.AssertIsEqual(cur, c.Root)

	// The signal needs no constraint of its own: as a public input it is
	// part of the statement, which is what binds the proof to one
	// receiver. The square keeps it present in the constraint system.
	api.Mul(c.SignalHash, c.SignalHash)

	return nil
}

// Package zk implements the membership proof system behind claims: a
// Groth16 circuit proving that the claimer's identity commitment belongs
// to a group tree, plus the prover and verifier around it.
package zk

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"zkdrop/internal/group"
)

// Identity is a member's secret key material. The commitment derived from
// it is what gets inserted into a group tree; the secrets never leave the
// member's side.
type Identity struct {
	Nullifier *big.Int
	Trapdoor  *big.Int
}

// NewIdentity generates a fresh identity from crypto/rand.
func NewIdentity() (*Identity, error) {
	nullifier, err := randomElement()
	if err != nil {
		return nil, fmt.Errorf("generate identity nullifier:\n%w", err)
	}

	trapdoor, err := randomElement()
	if err != nil {
		return nil, fmt.Errorf("generate identity trapdoor:\n%w", err)
	}

	return &Identity{Nullifier: nullifier, Trapdoor: trapdoor}, nil
}

// randomElement returns a non-zero BN254 scalar field element.
func randomElement() (*big.Int, error) {
	for {
		v, err := rand.Int(rand.Reader, ecc.BN254.ScalarField())
		if err != nil {
			return nil, err
		}
		if v.Sign() != 0 {
			return v, nil
		}
	}
}

// hashOne hashes a single field element with BN254 MiMC.
func hashOne(v *big.Int) *big.Int {
	h := mimc.NewMiMC()

	var e fr.Element
	e.SetBigInt(v)
	b := e.Bytes()
	h.Write(b[:])

	return new(big.Int).SetBytes(h.Sum(nil))
}

// Commitment derives the public identity commitment:
// MiMC(MiMC(nullifier, trapdoor)), matching the circuit.
func (id *Identity) Commitment() *big.Int {
	secret := group.HashPair(id.Nullifier, id.Trapdoor)
	return hashOne(secret)
}

// NullifierHash derives the one-time-use nullifier for a scope:
// MiMC(externalNullifier, identity nullifier). The same identity produces
// the same hash for the same scope, which is what makes replays
// detectable, and unlinkable hashes for different scopes.
func (id *Identity) NullifierHash(externalNullifier *big.Int) *big.Int {
	return group.HashPair(externalNullifier, id.Nullifier)
}

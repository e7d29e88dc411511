package zk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"zkdrop/internal/group"
)

// Prover generates claim proofs for a member. It needs the proving key,
// so it lives member-side (or in tests), never in the claim path.
type Prover struct {
	keys *Keys
}

// NewProver creates a prover from a compiled circuit and key pair.
func NewProver(keys *Keys) *Prover {
	return &Prover{keys: keys}
}

// Prove builds a membership proof for identity at the given tree position,
// bound to signalHash and externalNullifier. Returns the serialized proof
// and the nullifier hash the claim must present.
func (p *Prover) Prove(identity *Identity, merkle group.MerkleProof, root, signalHash, externalNullifier *big.Int) ([]byte, *big.Int, error) {
	if len(merkle.Siblings) != TreeDepth || len(merkle.PathBits) != TreeDepth {
		return nil, nil, fmt.Errorf("merkle proof depth %d, circuit wants %d", len(merkle.Siblings), TreeDepth)
	}

	nullifierHash := identity.NullifierHash(externalNullifier)

	assignment := &ClaimCircuit{
		Root:              root,
		SignalHash:        signalHash,
		NullifierHash:     nullifierHash,
		ExternalNullifier: externalNullifier,
		IdentityNullifier: identity.Nullifier,
		IdentityTrapdoor:  identity.Trapdoor,
	}
	for i := 0; i < TreeDepth; i++ {
		assignment.Siblings[i] = merkle.Siblings[i]
		assignment.PathBits[i] = int(merkle.PathBits[i])
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("build witness:\n%w", err)
	}

	proof, err := groth16.Prove(p.keys.CCS, p.keys.PK, witness)
	if err != nil {
		return nil, nil, fmt.Errorf("prove claim:\n%w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("serialize proof:\n%w", err)
	}

	return buf.Bytes(), nullifierHash, nil
}

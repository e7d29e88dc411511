package zk

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"zkdrop/internal/airdrop"
)

// GroupRoots answers whether a claimed root belongs to a group. The group
// manager implements it.
type GroupRoots interface {
	HasRoot(groupID uint64, root *big.Int) bool
}

// Verifier implements airdrop.Verifier with Groth16 over the claim
// circuit. Every rejection wraps airdrop.ErrInvalidProof.
type Verifier struct {
	vk     groth16.VerifyingKey
	groups GroupRoots
}

// NewVerifier creates a verifier from a verifying key and a root source.
func NewVerifier(vk groth16.VerifyingKey, groups GroupRoots) *Verifier {
	return &Verifier{vk: vk, groups: groups}
}

// Verify checks that proof demonstrates membership in groupID under the
// claimed root, with the given signal and nullifier scope.
func (v *Verifier) Verify(root *big.Int, groupID uint64, signalHash, nullifierHash, externalNullifier *big.Int, proofBytes []byte) error {
	if !v.groups.HasRoot(groupID, root) {
		return fmt.Errorf("%w: root not known to group %d", airdrop.ErrInvalidProof, groupID)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: malformed proof: %v", airdrop.ErrInvalidProof, err)
	}

	assignment := &ClaimCircuit{
		Root:              root,
		SignalHash:        signalHash,
		NullifierHash:     nullifierHash,
		ExternalNullifier: externalNullifier,
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("build public witness:\n%w", err)
	}

	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return fmt.Errorf("%w: %v", airdrop.ErrInvalidProof, err)
	}

	return nil
}

package airdrop

import (
	"crypto/ed25519"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/blake3"
)

// SignalHash maps the intended receiver address into the proof system's
// scalar field: keccak256(receiver) shifted right by 8 bits so the result
// always fits a BN254 field element. Binding the receiver into the proof
// statement prevents a captured proof from being replayed with a different
// payout destination.
func SignalHash(receiver common.Address) *big.Int {
	h := crypto.Keccak256(receiver.Bytes())
	return new(big.Int).Rsh(new(big.Int).SetBytes(h), 8)
}

// ExternalNullifier derives the scope value for nullifiers:
// keccak256(deployment || airdropID) >> 8. Scoping by deployment and
// airdrop lets the same identity claim from every distinct airdrop exactly
// once each.
func ExternalNullifier(deployment common.Address, airdropID uint64) *big.Int {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], airdropID)

	h := crypto.Keccak256(deployment.Bytes(), id[:])
	return new(big.Int).Rsh(new(big.Int).SetBytes(h), 8)
}

// DeploymentID derives this deployment's 20-byte identity from its Ed25519
// public key. The identity feeds the external-nullifier derivation and
// names the engine as token spender.
func DeploymentID(pub ed25519.PublicKey) common.Address {
	sum := blake3.Sum256(pub)

	var addr common.Address
	copy(addr[:], sum[:common.AddressLength])
	return addr
}

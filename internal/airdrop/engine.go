package airdrop

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkdrop/internal/logger"
)

// Verifier checks a membership proof against the public statement. It is
// authoritative: a rejection is final and never retried.
type Verifier interface {
	Verify(root *big.Int, groupID uint64, signalHash, nullifierHash, externalNullifier *big.Int, proof []byte) error
}

// Transferer moves tokens between accounts on behalf of the engine.
type Transferer interface {
	TransferFrom(token, from, to common.Address, amount *uint256.Int) error
}

// Engine orchestrates claims: replay check, registry lookup, signal and
// external-nullifier construction, proof verification, nullifier commit,
// and payout, in that order.
type Engine struct {
	mu         sync.Mutex
	registry   *Registry
	nullifiers *Ledger
	verifier   Verifier
	transferer Transferer
	emitter    Emitter
	deployment common.Address
}

// NewEngine creates a claim engine. The deployment address scopes external
// nullifiers and identifies the engine as token spender.
func NewEngine(registry *Registry, nullifiers *Ledger, verifier Verifier, transferer Transferer, emitter Emitter, deployment common.Address) *Engine {
	return &Engine{
		registry:   registry,
		nullifiers: nullifiers,
		verifier:   verifier,
		transferer: transferer,
		emitter:    emitter,
		deployment: deployment,
	}
}

// Deployment returns the engine's deployment identity.
func (e *Engine) Deployment() common.Address {
	return e.deployment
}

// NullifierCount returns how many nullifiers have been consumed.
func (e *Engine) NullifierCount() int {
	return e.nullifiers.Count()
}

// Claim pays out an airdrop to receiver if the proof demonstrates group
// membership and the nullifier is fresh.
//
// The whole claim runs under one mutex: of two concurrent claims carrying
// the same nullifier exactly one wins, and the nullifier mark and the
// transfer are atomic with respect to other claims. A failed transfer
// rolls the mark back, so a consumed nullifier always corresponds to a
// completed payout.
func (e *Engine) Claim(airdropID uint64, receiver common.Address, root, nullifierHash *big.Int, proof []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. Replay check first: cheap and independent of the lookup.
	if e.nullifiers.IsUsed(nullifierHash) {
		return ErrInvalidNullifier
	}

	// 2. One consistent snapshot of the record for the whole claim.
	record, ok := e.registry.Get(airdropID)
	if !ok {
		return ErrInvalidAirdrop
	}

	// 3. Bind the proof to this receiver, this deployment, this airdrop.
	signal := SignalHash(receiver)
	externalNullifier := ExternalNullifier(e.deployment, airdropID)

	// 4. Verification happens strictly before any state mutation.
	if err := e.verifier.Verify(root, record.GroupID, signal, nullifierHash, externalNullifier, proof); err != nil {
		if !errors.Is(err, ErrInvalidProof) {
			err = fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		return err
	}

	// 5. Consume the nullifier.
	if err := e.nullifiers.MarkUsed(nullifierHash); err != nil {
		return fmt.Errorf("mark nullifier:\n%w", err)
	}

	// 6. Pay out; roll the mark back if the transfer cannot complete.
	if err := e.transferer.TransferFrom(record.Token, record.Holder, receiver, record.Amount); err != nil {
		if rbErr := e.nullifiers.unmark(nullifierHash); rbErr != nil {
			logger.Error("nullifier rollback failed", "airdrop", airdropID, "error", rbErr)
		}

		if !errors.Is(err, ErrTransferFailed) {
			err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return err
	}

	e.emitter.AirdropClaimed(airdropID, receiver)

	return nil
}

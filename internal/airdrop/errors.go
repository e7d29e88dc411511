package airdrop

import "errors"

// Claim and registry failures. All are terminal: the caller must re-submit
// with corrected inputs, nothing is retried internally.
var (
	// ErrUnauthorized means the caller is not the record's manager.
	ErrUnauthorized = errors.New("caller is not the airdrop manager")

	// ErrInvalidAirdrop means the airdrop id is zero or was never assigned.
	ErrInvalidAirdrop = errors.New("unknown airdrop")

	// ErrInvalidNullifier means the nullifier was already consumed by a
	// previous claim (replay attempt).
	ErrInvalidNullifier = errors.New("nullifier already used")

	// ErrInvalidProof means the membership proof was rejected.
	ErrInvalidProof = errors.New("invalid membership proof")

	// ErrTransferFailed means the token payout could not be executed.
	ErrTransferFailed = errors.New("token transfer failed")
)

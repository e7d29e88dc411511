// Package token implements an in-process fungible-token ledger with
// ERC20-style balances and spending allowances.
package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkdrop/internal/airdrop"
	"zkdrop/internal/storage"
)

var (
	balancePrefix   = []byte("t:b:") // + token || account -> 32-byte balance
	allowancePrefix = []byte("t:w:") // + token || owner || spender -> 32-byte allowance
)

// Ledger tracks balances per (token, account) and allowances per
// (token, owner, spender), persisted in the node's store.
type Ledger struct {
	mu sync.Mutex
	db *storage.Storage
}

// NewLedger creates a token ledger backed by the given store.
func NewLedger(db *storage.Storage) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(token, account common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, account.Bytes()...)
	return key
}

func allowanceKey(token, owner, spender common.Address) []byte {
	key := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, owner.Bytes()...)
	key = append(key, spender.Bytes()...)
	return key
}

// readAmount loads a 32-byte big-endian amount, treating absence as zero.
func (l *Ledger) readAmount(key []byte) (*uint256.Int, error) {
	data, err := l.db.Get(key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return uint256.NewInt(0), nil
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("malformed amount of %d bytes", len(data))
	}

	return new(uint256.Int).SetBytes(data), nil
}

func encodeAmount(v *uint256.Int) []byte {
	b32 := v.Bytes32()
	return b32[:]
}

// BalanceOf returns the balance of account for token.
func (l *Ledger) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.readAmount(balanceKey(token, account))
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.readAmount(allowanceKey(token, owner, spender))
}

// Mint credits amount to account. There is no supply cap; minting is a
// deployment/test convenience, not a protocol operation.
func (l *Ledger) Mint(token, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey(token, account)

	balance, err := l.readAmount(key)
	if err != nil {
		return fmt.Errorf("read balance:\n%w", err)
	}

	sum, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("mint overflows balance of %s", account.Hex())
	}

	return l.db.Set(key, encodeAmount(sum))
}

// Approve sets spender's allowance over owner's balance of token.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Set(allowanceKey(token, owner, spender), encodeAmount(amount))
}

// Transfer moves amount from spender's own balance to another account.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.move(token, from, to, amount, nil)
}

// TransferFrom moves amount from from's balance to to, debiting spender's
// allowance. Insufficient balance or allowance fail with an
// airdrop.ErrTransferFailed-wrapped error and no state change.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowKey := allowanceKey(token, from, spender)

	allowance, err := l.readAmount(allowKey)
	if err != nil {
		return fmt.Errorf("read allowance:\n%w", err)
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: allowance %s below amount %s", airdrop.ErrTransferFailed, allowance.Dec(), amount.Dec())
	}

	remaining := new(uint256.Int).Sub(allowance, amount)

	return l.move(token, from, to, amount, &storage.KeyValue{
		Key:   allowKey,
		Value: encodeAmount(remaining),
	})
}

// move debits from and credits to atomically, with an optional extra write
// (the allowance update) in the same batch. Callers hold l.mu.
func (l *Ledger) move(token, from, to common.Address, amount *uint256.Int, extra *storage.KeyValue) error {
	fromKey := balanceKey(token, from)
	toKey := balanceKey(token, to)

	fromBalance, err := l.readAmount(fromKey)
	if err != nil {
		return fmt.Errorf("read balance:\n%w", err)
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: balance %s below amount %s", airdrop.ErrTransferFailed, fromBalance.Dec(), amount.Dec())
	}

	// Self-transfer must not double-count the shared balance slot; the
	// allowance debit still applies.
	if from == to {
		if extra != nil {
			return l.db.Set(extra.Key, extra.Value)
		}
		return nil
	}

	toBalance, err := l.readAmount(toKey)
	if err != nil {
		return fmt.Errorf("read balance:\n%w", err)
	}

	newTo, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return fmt.Errorf("%w: receiver balance overflow", airdrop.ErrTransferFailed)
	}

	pairs := []storage.KeyValue{
		{Key: fromKey, Value: encodeAmount(new(uint256.Int).Sub(fromBalance, amount))},
		{Key: toKey, Value: encodeAmount(newTo)},
	}
	if extra != nil {
		pairs = append(pairs, *extra)
	}

	return l.db.SetBatch(pairs)
}

// Spender binds a ledger to a fixed spender so it satisfies the claim
// engine's Transferer interface.
type Spender struct {
	ledger  *Ledger
	spender common.Address
}

// AsSpender returns a Transferer view of the ledger acting as spender.
func (l *Ledger) AsSpender(spender common.Address) *Spender {
	return &Spender{ledger: l, spender: spender}
}

// TransferFrom implements airdrop.Transferer.
func (s *Spender) TransferFrom(token, from, to common.Address, amount *uint256.Int) error {
	return s.ledger.TransferFrom(token, s.spender, from, to, amount)
}

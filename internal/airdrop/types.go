// Package airdrop implements the anonymous airdrop core: the airdrop
// registry, the nullifier ledger, and the claim engine that ties them to
// an external membership-proof verifier and token ledger.
package airdrop

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Airdrop is a registered token distribution scoped to a membership group.
// A record is either absent or fully populated; Update replaces it whole.
type Airdrop struct {
	GroupID uint64          // GroupID names the membership set backing claims
	Token   common.Address  // Token is the fungible token paid out
	Manager common.Address  // Manager is the only principal allowed to update
	Holder  common.Address  // Holder funds payouts
	Amount  *uint256.Int    // Amount is the fixed payout per claim
}

// encodedSize is the fixed byte size of an encoded Airdrop record:
// u64 group id + three 20-byte addresses + 32-byte amount.
const encodedSize = 8 + 3*common.AddressLength + 32

// encode serializes the record into a fixed little-endian layout.
func (a *Airdrop) encode() []byte {
	buf := make([]byte, encodedSize)

	binary.LittleEndian.PutUint64(buf[0:8], a.GroupID)
	copy(buf[8:28], a.Token[:])
	copy(buf[28:48], a.Manager[:])
	copy(buf[48:68], a.Holder[:])

	amount := a.Amount
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	b32 := amount.Bytes32()
	copy(buf[68:100], b32[:])

	return buf
}

// decodeAirdrop deserializes a record encoded by encode.
func decodeAirdrop(data []byte) (Airdrop, error) {
	if len(data) != encodedSize {
		return Airdrop{}, fmt.Errorf("invalid record size: got %d, want %d", len(data), encodedSize)
	}

	var a Airdrop
	a.GroupID = binary.LittleEndian.Uint64(data[0:8])
	copy(a.Token[:], data[8:28])
	copy(a.Manager[:], data[28:48])
	copy(a.Holder[:], data[48:68])
	a.Amount = new(uint256.Int).SetBytes(data[68:100])

	return a, nil
}

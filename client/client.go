// Package client is a thin HTTP client for a zkdrop node, plus the
// member-side Wallet that pairs an identity with proof generation.
package client

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"zkdrop/internal/airdrop"
	"zkdrop/internal/group"
	"zkdrop/internal/zk"
)

// Client connects to a zkdrop node via HTTP.
type Client struct {
	nodeAddr   string         // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	deployment common.Address // deployment scopes external nullifiers
}

// AirdropInfo is an airdrop record as returned by the node.
type AirdropInfo struct {
	ID      uint64         `json:"id"`
	GroupID uint64         `json:"groupId"`
	Token   common.Address `json:"token"`
	Manager common.Address `json:"manager"`
	Holder  common.Address `json:"holder"`
	Amount  *hexutil.Big   `json:"amount"`
}

// NewClient creates a client connected to a node. It fetches the
// deployment identity from the node's /status endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	var status struct {
		Deployment common.Address `json:"deployment"`
	}

	if err := httpGet("http://"+nodeAddr+"/status", &status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &Client{nodeAddr: nodeAddr, deployment: status.Deployment}, nil
}

// Deployment returns the node's deployment identity.
func (c *Client) Deployment() common.Address {
	return c.deployment
}

func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

// CreateAirdrop registers a new airdrop with caller as manager.
func (c *Client) CreateAirdrop(caller common.Address, groupID uint64, token, holder common.Address, amount *uint256.Int) (uint64, error) {
	body := map[string]any{
		"caller":  caller,
		"groupId": groupID,
		"token":   token,
		"holder":  holder,
		"amount":  (*hexutil.Big)(amount.ToBig()),
	}

	var resp struct {
		ID uint64 `json:"id"`
	}

	if err := httpSendJSON("POST", c.url("/airdrops"), body, &resp); err != nil {
		return 0, fmt.Errorf("create airdrop:\n%w", err)
	}

	return resp.ID, nil
}

// GetAirdrop fetches an airdrop record.
func (c *Client) GetAirdrop(id uint64) (AirdropInfo, error) {
	var info AirdropInfo

	if err := httpGet(c.url(fmt.Sprintf("/airdrops/%d", id)), &info); err != nil {
		return AirdropInfo{}, fmt.Errorf("get airdrop %d:\n%w", id, err)
	}

	return info, nil
}

// UpdateAirdrop replaces the whole record for id. Caller must be the
// current manager.
func (c *Client) UpdateAirdrop(caller common.Address, id uint64, groupID uint64, token, manager, holder common.Address, amount *uint256.Int) error {
	body := map[string]any{
		"caller":  caller,
		"groupId": groupID,
		"token":   token,
		"manager": manager,
		"holder":  holder,
		"amount":  (*hexutil.Big)(amount.ToBig()),
	}

	if err := httpSendJSON("PUT", c.url(fmt.Sprintf("/airdrops/%d", id)), body, nil); err != nil {
		return fmt.Errorf("update airdrop %d:\n%w", id, err)
	}

	return nil
}

// Claim submits a claim with a pre-built proof.
func (c *Client) Claim(airdropID uint64, receiver common.Address, root, nullifierHash *big.Int, proof []byte) error {
	body := map[string]any{
		"airdropId":     airdropID,
		"receiver":      receiver,
		"root":          (*hexutil.Big)(root),
		"nullifierHash": (*hexutil.Big)(nullifierHash),
		"proof":         hexutil.Bytes(proof),
	}

	if err := httpSendJSON("POST", c.url("/claims"), body, nil); err != nil {
		return fmt.Errorf("claim airdrop %d:\n%w", airdropID, err)
	}

	return nil
}

// CreateGroup creates a new membership group.
func (c *Client) CreateGroup() (uint64, error) {
	var resp struct {
		ID uint64 `json:"id"`
	}

	if err := httpSendJSON("POST", c.url("/groups"), map[string]any{}, &resp); err != nil {
		return 0, fmt.Errorf("create group:\n%w", err)
	}

	return resp.ID, nil
}

// AddMember inserts an identity commitment into a group and returns the
// assigned leaf index.
func (c *Client) AddMember(groupID uint64, commitment *big.Int) (int, error) {
	body := map[string]any{
		"commitment": (*hexutil.Big)(commitment),
	}

	var resp struct {
		Index int `json:"index"`
	}

	if err := httpSendJSON("POST", c.url(fmt.Sprintf("/groups/%d/members", groupID)), body, &resp); err != nil {
		return 0, fmt.Errorf("add member to group %d:\n%w", groupID, err)
	}

	return resp.Index, nil
}

// GroupRoot fetches the current root of a group.
func (c *Client) GroupRoot(groupID uint64) (*big.Int, error) {
	var resp struct {
		Root *hexutil.Big `json:"root"`
	}

	if err := httpGet(c.url(fmt.Sprintf("/groups/%d/root", groupID)), &resp); err != nil {
		return nil, fmt.Errorf("get root of group %d:\n%w", groupID, err)
	}

	return resp.Root.ToInt(), nil
}

// MerkleProof fetches the inclusion path for a member's leaf index along
// with the root it leads to.
func (c *Client) MerkleProof(groupID uint64, index int) (group.MerkleProof, *big.Int, error) {
	var resp struct {
		Siblings []*hexutil.Big `json:"siblings"`
		PathBits []int          `json:"pathBits"`
		Root     *hexutil.Big   `json:"root"`
	}

	url := c.url(fmt.Sprintf("/groups/%d/proof?index=%d", groupID, index))
	if err := httpGet(url, &resp); err != nil {
		return group.MerkleProof{}, nil, fmt.Errorf("get merkle proof:\n%w", err)
	}

	proof := group.MerkleProof{
		Siblings: make([]*big.Int, len(resp.Siblings)),
		PathBits: make([]uint8, len(resp.PathBits)),
	}
	for i, sib := range resp.Siblings {
		proof.Siblings[i] = sib.ToInt()
	}
	for i, b := range resp.PathBits {
		proof.PathBits[i] = uint8(b)
	}

	return proof, resp.Root.ToInt(), nil
}

// Faucet mints tokens on the node's ledger.
func (c *Client) Faucet(token, account common.Address, amount *uint256.Int) error {
	body := map[string]any{
		"token":   token,
		"account": account,
		"amount":  (*hexutil.Big)(amount.ToBig()),
	}

	if err := httpSendJSON("POST", c.url("/faucet"), body, nil); err != nil {
		return fmt.Errorf("faucet:\n%w", err)
	}

	return nil
}

// Approve grants the node's claim engine spending rights over owner's
// balance of token.
func (c *Client) Approve(token, owner common.Address, amount *uint256.Int) error {
	body := map[string]any{
		"token":  token,
		"owner":  owner,
		"amount": (*hexutil.Big)(amount.ToBig()),
	}

	if err := httpSendJSON("POST", c.url("/approve"), body, nil); err != nil {
		return fmt.Errorf("approve:\n%w", err)
	}

	return nil
}

// Balance fetches the balance of account for token.
func (c *Client) Balance(token, account common.Address) (*uint256.Int, error) {
	var resp struct {
		Balance *hexutil.Big `json:"balance"`
	}

	url := c.url("/balance?token=" + token.Hex() + "&account=" + account.Hex())
	if err := httpGet(url, &resp); err != nil {
		return nil, fmt.Errorf("get balance:\n%w", err)
	}

	balance, overflow := uint256.FromBig(resp.Balance.ToInt())
	if overflow {
		return nil, fmt.Errorf("balance exceeds 256 bits")
	}

	return balance, nil
}

// Wallet pairs a member identity with membership metadata and generates
// claim proofs locally, so the secrets never reach the node.
type Wallet struct {
	identity *zk.Identity
	prover   *zk.Prover
	groupID  uint64
	index    int // leaf index in the group tree
}

// NewWallet creates a wallet with a fresh identity.
func NewWallet(prover *zk.Prover) (*Wallet, error) {
	identity, err := zk.NewIdentity()
	if err != nil {
		return nil, err
	}

	return &Wallet{identity: identity, prover: prover, index: -1}, nil
}

// Commitment returns the identity commitment to register with a group.
func (w *Wallet) Commitment() *big.Int {
	return w.identity.Commitment()
}

// Joined records the wallet's position after the commitment was added to
// a group.
func (w *Wallet) Joined(groupID uint64, index int) {
	w.groupID = groupID
	w.index = index
}

// ProveClaim fetches the wallet's current inclusion path and builds a
// claim proof for an airdrop, bound to the receiver. Returns the proof,
// the root it was generated against, and the nullifier hash the claim
// must present.
func (w *Wallet) ProveClaim(c *Client, airdropID uint64, receiver common.Address) (proof []byte, root, nullifierHash *big.Int, err error) {
	if w.index < 0 {
		return nil, nil, nil, fmt.Errorf("wallet has not joined a group")
	}

	merkle, root, err := c.MerkleProof(w.groupID, w.index)
	if err != nil {
		return nil, nil, nil, err
	}

	signal := airdrop.SignalHash(receiver)
	externalNullifier := airdrop.ExternalNullifier(c.Deployment(), airdropID)

	proof, nullifierHash, err = w.prover.Prove(w.identity, merkle, root, signal, externalNullifier)
	if err != nil {
		return nil, nil, nil, err
	}

	return proof, root, nullifierHash, nil
}

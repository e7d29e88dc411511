// Package api exposes the airdrop service over HTTP with JSON bodies.
// Field elements travel as 0x-hex quantities, proofs as 0x-hex blobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"zkdrop/internal/airdrop"
	"zkdrop/internal/group"
	"zkdrop/internal/logger"
	"zkdrop/internal/token"
)

const (
	// maxBodySize bounds request bodies; proofs are well under this.
	maxBodySize = 1 << 20 // 1 MB
)

// Server is the HTTP API server.
type Server struct {
	addr     string
	registry *airdrop.Registry
	engine   *airdrop.Engine
	groups   *group.Manager
	tokens   *token.Ledger
	server   *http.Server
}

// New creates a new HTTP API server.
func New(addr string, registry *airdrop.Registry, engine *airdrop.Engine, groups *group.Manager, tokens *token.Ledger) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		engine:   engine,
		groups:   groups,
		tokens:   tokens,
	}
}

// routes builds the request mux. Split out so tests can drive handlers
// without binding a socket.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /airdrops", s.handleCreateAirdrop)
	mux.HandleFunc("GET /airdrops/{id}", s.handleGetAirdrop)
	mux.HandleFunc("PUT /airdrops/{id}", s.handleUpdateAirdrop)
	mux.HandleFunc("POST /claims", s.handleClaim)
	mux.HandleFunc("POST /groups", s.handleCreateGroup)
	mux.HandleFunc("POST /groups/{id}/members", s.handleAddMember)
	mux.HandleFunc("GET /groups/{id}/root", s.handleGroupRoot)
	mux.HandleFunc("GET /groups/{id}/proof", s.handleGroupProof)
	mux.HandleFunc("POST /faucet", s.handleFaucet)
	mux.HandleFunc("POST /approve", s.handleApprove)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// airdropBody is the create/update request payload. Caller is the claimed
// principal; transport-level authentication is a deployment concern in
// front of this service.
type airdropBody struct {
	Caller  common.Address `json:"caller"`
	GroupID uint64         `json:"groupId"`
	Token   common.Address `json:"token"`
	Manager common.Address `json:"manager"`
	Holder  common.Address `json:"holder"`
	Amount  *hexutil.Big   `json:"amount"`
}

// airdropView is the record shape returned to clients.
type airdropView struct {
	ID      uint64         `json:"id"`
	GroupID uint64         `json:"groupId"`
	Token   common.Address `json:"token"`
	Manager common.Address `json:"manager"`
	Holder  common.Address `json:"holder"`
	Amount  *hexutil.Big   `json:"amount"`
}

func viewOf(id uint64, a airdrop.Airdrop) airdropView {
	return airdropView{
		ID:      id,
		GroupID: a.GroupID,
		Token:   a.Token,
		Manager: a.Manager,
		Holder:  a.Holder,
		Amount:  (*hexutil.Big)(a.Amount.ToBig()),
	}
}

// bodyAmount converts an optional hex amount to uint256, defaulting zero.
func bodyAmount(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}

	amount, overflow := uint256.FromBig(v.ToInt())
	if overflow {
		return nil, errors.New("amount exceeds 256 bits")
	}
	return amount, nil
}

// handleCreateAirdrop handles POST /airdrops.
func (s *Server) handleCreateAirdrop(w http.ResponseWriter, r *http.Request) {
	var body airdropBody
	if !decodeBody(w, r, &body) {
		return
	}

	amount, err := bodyAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.registry.Create(body.Caller, body.GroupID, body.Token, body.Holder, amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// handleGetAirdrop handles GET /airdrops/{id}.
func (s *Server) handleGetAirdrop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	record, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, airdrop.ErrInvalidAirdrop.Error())
		return
	}

	writeJSON(w, http.StatusOK, viewOf(id, record))
}

// handleUpdateAirdrop handles PUT /airdrops/{id}.
func (s *Server) handleUpdateAirdrop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body airdropBody
	if !decodeBody(w, r, &body) {
		return
	}

	amount, err := bodyAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := airdrop.Airdrop{
		GroupID: body.GroupID,
		Token:   body.Token,
		Manager: body.Manager,
		Holder:  body.Holder,
		Amount:  amount,
	}

	if err := s.registry.Update(body.Caller, id, record); err != nil {
		writeTaxonomyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(id, record))
}

// claimBody is the claim request payload.
type claimBody struct {
	AirdropID     uint64         `json:"airdropId"`
	Receiver      common.Address `json:"receiver"`
	Root          *hexutil.Big   `json:"root"`
	NullifierHash *hexutil.Big   `json:"nullifierHash"`
	Proof         hexutil.Bytes  `json:"proof"`
}

// handleClaim handles POST /claims.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if !decodeBody(w, r, &body) {
		return
	}

	if body.Root == nil || body.NullifierHash == nil {
		writeError(w, http.StatusBadRequest, "missing root or nullifierHash")
		return
	}

	err := s.engine.Claim(body.AirdropID, body.Receiver, body.Root.ToInt(), body.NullifierHash.ToInt(), body.Proof)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"airdropId": body.AirdropID,
		"receiver":  body.Receiver,
	})
}

// handleCreateGroup handles POST /groups.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := s.groups.Create(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// handleAddMember handles POST /groups/{id}/members.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Commitment *hexutil.Big `json:"commitment"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Commitment == nil {
		writeError(w, http.StatusBadRequest, "missing commitment")
		return
	}

	index, err := s.groups.AddMember(id, body.Commitment.ToInt())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	root, err := s.groups.Root(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index": index,
		"root":  (*hexutil.Big)(root),
	})
}

// handleGroupRoot handles GET /groups/{id}/root.
func (s *Server) handleGroupRoot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	root, err := s.groups.Root(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	size, _ := s.groups.Size(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"root": (*hexutil.Big)(root),
		"size": size,
	})
}

// handleGroupProof handles GET /groups/{id}/proof?index=N, returning the
// inclusion path for a member's leaf together with the root it leads to.
func (s *Server) handleGroupProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}

	proof, err := s.groups.Proof(id, index)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	root, err := s.groups.Root(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	siblings := make([]*hexutil.Big, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		siblings[i] = (*hexutil.Big)(sib)
	}

	// []uint8 would JSON-encode as base64, so widen the bits.
	bits := make([]int, len(proof.PathBits))
	for i, b := range proof.PathBits {
		bits[i] = int(b)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"siblings": siblings,
		"pathBits": bits,
		"root":     (*hexutil.Big)(root),
	})
}

// handleFaucet handles POST /faucet: mint tokens for local setups.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token   common.Address `json:"token"`
		Account common.Address `json:"account"`
		Amount  *hexutil.Big   `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	amount, err := bodyAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.tokens.Mint(body.Token, body.Account, amount); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleApprove handles POST /approve: grant the claim engine spending
// rights over the owner's balance.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token  common.Address `json:"token"`
		Owner  common.Address `json:"owner"`
		Amount *hexutil.Big   `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	amount, err := bodyAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.tokens.Approve(body.Token, body.Owner, s.engine.Deployment(), amount); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBalance handles GET /balance?token=0x..&account=0x...
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !common.IsHexAddress(r.URL.Query().Get("token")) || !common.IsHexAddress(r.URL.Query().Get("account")) {
		writeError(w, http.StatusBadRequest, "token and account must be hex addresses")
		return
	}

	tok := common.HexToAddress(r.URL.Query().Get("token"))
	account := common.HexToAddress(r.URL.Query().Get("account"))

	balance, err := s.tokens.BalanceOf(tok, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance": (*hexutil.Big)(balance.ToBig()),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"airdrops":   s.registry.Count(),
		"groups":     s.groups.Count(),
		"nullifiers": s.engine.NullifierCount(),
		"deployment": s.engine.Deployment(),
	})
}

// pathID parses the {id} path segment.
func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeBody parses a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeTaxonomyError maps claim/registry failures to HTTP statuses.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, airdrop.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, airdrop.ErrInvalidAirdrop):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, airdrop.ErrInvalidNullifier):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, airdrop.ErrInvalidProof):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, airdrop.ErrTransferFailed):
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

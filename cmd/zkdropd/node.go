package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"zkdrop/internal/airdrop"
	"zkdrop/internal/api"
	"zkdrop/internal/group"
	"zkdrop/internal/logger"
	"zkdrop/internal/storage"
	"zkdrop/internal/token"
	"zkdrop/internal/zk"
)

// Node represents a running zkdrop node.
type Node struct {
	cfg      *Config
	storage  *storage.Storage
	groups   *group.Manager
	tokens   *token.Ledger
	registry *airdrop.Registry
	engine   *airdrop.Engine
	api      *api.Server
}

// NewNode creates and initializes a new node: storage, membership groups,
// token ledger, proving keys, claim engine, and the HTTP API.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := os.MkdirAll(cfg.DataPath, 0700); err != nil {
		return nil, fmt.Errorf("create data dir:\n%w", err)
	}

	db, err := storage.New(filepath.Join(cfg.DataPath, "db"))
	if err != nil {
		return nil, fmt.Errorf("open storage:\n%w", err)
	}
	n.storage = db

	n.groups, err = group.NewManager(db)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init groups:\n%w", err)
	}

	n.tokens = token.NewLedger(db)

	keys, err := zk.Setup(cfg.DataPath)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init proving keys:\n%w", err)
	}

	registry, err := airdrop.NewRegistry(db, airdrop.LogEmitter{})
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init registry:\n%w", err)
	}
	n.registry = registry

	nullifiers, err := airdrop.NewLedger(db)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init nullifier ledger:\n%w", err)
	}

	deployment := airdrop.DeploymentID(cfg.PrivateKey.Public().(ed25519.PublicKey))
	verifier := zk.NewVerifier(keys.VK, n.groups)

	n.engine = airdrop.NewEngine(
		registry,
		nullifiers,
		verifier,
		n.tokens.AsSpender(deployment),
		airdrop.LogEmitter{},
		deployment,
	)

	n.api = api.New(cfg.HTTPAddress, registry, n.engine, n.groups, n.tokens)

	return n, nil
}

// Run starts the HTTP API and blocks until a shutdown signal arrives.
func (n *Node) Run() error {
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())

	if err := n.api.Stop(); err != nil {
		logger.Error("api shutdown error", "error", err)
	}

	return n.Close()
}

// Close releases node resources.
func (n *Node) Close() error {
	if n.storage != nil {
		return n.storage.Close()
	}
	return nil
}

package group

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"zkdrop/internal/logger"
	"zkdrop/internal/storage"
)

// rootHistory is how many past roots a group remembers. A member insertion
// between proof generation and claim submission must not invalidate the
// in-flight proof, so claims may verify against any remembered root.
const rootHistory = 16

var (
	groupCounterKey = []byte("g:next") // -> 8-byte BE next group id
	groupMetaPrefix = []byte("g:d:")   // + 8-byte BE id -> 1-byte depth
	groupLeafPrefix = []byte("g:m:")   // + 8-byte BE id + 4-byte BE index -> 32-byte commitment
)

// Manager owns all membership groups of the deployment. Group membership
// is administered out of band of the claim protocol: the claim engine only
// ever asks whether a claimed root belongs to a group.
type Manager struct {
	mu     sync.RWMutex
	db     *storage.Storage
	groups map[uint64]*groupState
	next   uint64
}

type groupState struct {
	tree  *Tree
	roots []*big.Int // most recent last, bounded by rootHistory
}

// NewManager creates a manager backed by the given store, rebuilding all
// persisted groups from their member lists.
func NewManager(db *storage.Storage) (*Manager, error) {
	m := &Manager{
		db:     db,
		groups: make(map[uint64]*groupState),
		next:   1,
	}

	data, err := db.Get(groupCounterKey)
	if err != nil {
		return nil, fmt.Errorf("load group counter:\n%w", err)
	}
	if len(data) == 8 {
		m.next = binary.BigEndian.Uint64(data)
	}

	if err := m.restore(); err != nil {
		return nil, err
	}

	return m, nil
}

// restore rebuilds every persisted group tree by replaying its members.
// Root history does not survive restarts; only the rebuilt root is known.
func (m *Manager) restore() error {
	err := m.db.IteratePrefix(groupMetaPrefix, func(key, value []byte) error {
		if len(key) != len(groupMetaPrefix)+8 || len(value) != 1 {
			return fmt.Errorf("malformed group metadata")
		}

		id := binary.BigEndian.Uint64(key[len(groupMetaPrefix):])

		tree, err := NewTree(int(value[0]))
		if err != nil {
			return fmt.Errorf("group %d:\n%w", id, err)
		}

		m.groups[id] = &groupState{tree: tree}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore groups:\n%w", err)
	}

	err = m.db.IteratePrefix(groupLeafPrefix, func(key, value []byte) error {
		if len(key) != len(groupLeafPrefix)+12 {
			return fmt.Errorf("malformed group member key")
		}

		id := binary.BigEndian.Uint64(key[len(groupLeafPrefix) : len(groupLeafPrefix)+8])

		g, ok := m.groups[id]
		if !ok {
			return fmt.Errorf("member of unknown group %d", id)
		}

		// Members iterate in index order by key layout.
		if _, err := g.tree.Insert(new(big.Int).SetBytes(value)); err != nil {
			return fmt.Errorf("group %d:\n%w", id, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore group members:\n%w", err)
	}

	for id, g := range m.groups {
		g.roots = []*big.Int{g.tree.Root()}
		logger.Debug("group restored", "id", id, "members", g.tree.Size())
	}

	return nil
}

func groupMetaKey(id uint64) []byte {
	key := make([]byte, len(groupMetaPrefix)+8)
	copy(key, groupMetaPrefix)
	binary.BigEndian.PutUint64(key[len(groupMetaPrefix):], id)
	return key
}

func groupLeafKey(id uint64, index int) []byte {
	key := make([]byte, len(groupLeafPrefix)+12)
	copy(key, groupLeafPrefix)
	binary.BigEndian.PutUint64(key[len(groupLeafPrefix):], id)
	binary.BigEndian.PutUint32(key[len(groupLeafPrefix)+8:], uint32(index))
	return key
}

// Create allocates a new empty group of the given depth (DefaultDepth when
// depth is zero) and returns its id.
func (m *Manager) Create(depth int) (uint64, error) {
	if depth == 0 {
		depth = DefaultDepth
	}

	tree, err := NewTree(depth)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], m.next)

	err = m.db.SetBatch([]storage.KeyValue{
		{Key: groupMetaKey(id), Value: []byte{byte(depth)}},
		{Key: groupCounterKey, Value: counter[:]},
	})
	if err != nil {
		return 0, fmt.Errorf("persist group %d:\n%w", id, err)
	}

	m.groups[id] = &groupState{
		tree:  tree,
		roots: []*big.Int{tree.Root()},
	}

	logger.Info("group created", "id", id, "depth", depth)

	return id, nil
}

// AddMember inserts an identity commitment into a group and returns its
// leaf index.
func (m *Manager) AddMember(groupID uint64, commitment *big.Int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return 0, fmt.Errorf("unknown group %d", groupID)
	}

	index, err := g.tree.Insert(commitment)
	if err != nil {
		return 0, fmt.Errorf("group %d:\n%w", groupID, err)
	}

	var leaf [32]byte
	commitment.FillBytes(leaf[:])
	if err := m.db.Set(groupLeafKey(groupID, index), leaf[:]); err != nil {
		return 0, fmt.Errorf("persist member:\n%w", err)
	}

	g.roots = append(g.roots, g.tree.Root())
	if len(g.roots) > rootHistory {
		g.roots = g.roots[len(g.roots)-rootHistory:]
	}

	return index, nil
}

// Root returns the current root of a group.
func (m *Manager) Root(groupID uint64) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("unknown group %d", groupID)
	}

	return g.tree.Root(), nil
}

// HasRoot reports whether root is the current root of the group or one of
// its remembered past roots.
func (m *Manager) HasRoot(groupID uint64, root *big.Int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return false
	}

	for _, r := range g.roots {
		if r.Cmp(root) == 0 {
			return true
		}
	}

	return false
}

// Proof returns the inclusion proof for a member's leaf index.
func (m *Manager) Proof(groupID uint64, index int) (MerkleProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return MerkleProof{}, fmt.Errorf("unknown group %d", groupID)
	}

	return g.tree.Proof(index)
}

// Size returns the member count of a group.
func (m *Manager) Size(groupID uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return 0, fmt.Errorf("unknown group %d", groupID)
	}

	return g.tree.Size(), nil
}

// Count returns the number of groups.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.groups)
}

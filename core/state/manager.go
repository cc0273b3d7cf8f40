package state

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"daoledger/storage"
)

// Manager exposes RLP-encoded key-value state on top of a storage backend.
// Writes are staged in memory and journaled so an in-flight transition can be
// reverted; Commit flushes the staged writes to the backend in one batch.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

var (
	kvPrefix      = []byte("kv:")
	balancePrefix = []byte("balance:")
	rolePrefix    = []byte("role:")
)

func hashedKey(prefix, key []byte) string {
	buf := make([]byte, len(prefix)+len(key))
	copy(buf, prefix)
	copy(buf[len(prefix):], key)
	return string(ethcrypto.Keccak256(buf))
}

func (m *Manager) get(key string) ([]byte, error) {
	m.mu.RLock()
	value, staged := m.dirty[key]
	m.mu.RUnlock()
	if staged {
		return value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	value, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, existed := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	m.dirty[key] = value
}

// Snapshot returns a revision identifier for the current staged state.
func (m *Manager) Snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every staged write made after the revision was taken.
func (m *Manager) RevertToSnapshot(revision int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if revision < 0 {
		revision = 0
	}
	for i := len(m.journal) - 1; i >= revision; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if revision < len(m.journal) {
		m.journal = m.journal[:revision]
	}
}

// Commit writes all staged changes to the backend and clears the journal.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 {
		m.journal = nil
		return nil
	}
	if m.db != nil {
		if err := m.db.Write(m.dirty); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = nil
	return nil
}

// Discard drops every staged change.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string][]byte)
	m.journal = nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(hashedKey(kvPrefix, key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(hashedKey(kvPrefix, key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(hashedKey(kvPrefix, key), nil)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	list, err := m.KVGetList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList returns the byte slice list stored under key. Missing keys yield an
// empty list.
func (m *Manager) KVGetList(key []byte) ([][]byte, error) {
	var list [][]byte
	ok, err := m.KVGet(key, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return [][]byte{}, nil
	}
	return list, nil
}

// Balance returns the token balance held by addr.
func (m *Manager) Balance(addr [20]byte) (*uint256.Int, error) {
	data, err := m.get(hashedKey(balancePrefix, addr[:]))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return uint256.NewInt(0), nil
	}
	var raw []byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// SetBalance overwrites the token balance held by addr.
func (m *Manager) SetBalance(addr [20]byte, amount *uint256.Int) error {
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(amount.Bytes())
	if err != nil {
		return err
	}
	m.set(hashedKey(balancePrefix, addr[:]), encoded)
	return nil
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	return m.writeRole(trimmed, members)
}

// RemoveRole drops addr from the role. Removing a non-member is a no-op.
func (m *Manager) RemoveRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if !bytes.Equal(existing, addr) {
			kept = append(kept, existing)
		}
	}
	return m.writeRole(trimmed, kept)
}

func (m *Manager) writeRole(role string, members [][]byte) error {
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	m.set(hashedKey(rolePrefix, []byte(role)), encoded)
	return nil
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	data, err := m.get(hashedKey(rolePrefix, []byte(strings.TrimSpace(role))))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return, matching the best-effort semantics required by the callers.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

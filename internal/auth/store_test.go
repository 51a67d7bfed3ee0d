package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memKeyStore struct {
	mu       sync.Mutex
	keys     map[string]*SessionKey
	touchErr error
	listErr  error
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]*SessionKey)}
}

func (m *memKeyStore) CreateKey(_ context.Context, key *SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *memKeyStore) CreateFirstKey(ctx context.Context, key *SessionKey) error {
	m.mu.Lock()
	if len(m.keys) > 0 {
		m.mu.Unlock()
		return ErrNotBootstrappable
	}
	m.mu.Unlock()
	return m.CreateKey(ctx, key)
}

func (m *memKeyStore) FindKey(_ context.Context, id string) (*SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (m *memKeyStore) ListKeys(_ context.Context) ([]*SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SessionKey, 0, len(m.keys))
	for _, key := range m.keys {
		cp := *key
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memKeyStore) ListActiveKeys(ctx context.Context) ([]*SessionKey, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all, _ := m.ListKeys(ctx)
	out := all[:0]
	for _, key := range all {
		if key.Active {
			out = append(out, key)
		}
	}
	return out, nil
}

func (m *memKeyStore) CountKeys(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys), nil
}

func (m *memKeyStore) SetKeyActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Active = active
	return nil
}

func (m *memKeyStore) SetKeyPermissions(_ context.Context, id string, perms PermissionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Permissions = perms
	return nil
}

func (m *memKeyStore) TouchKey(_ context.Context, id string, at time.Time) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return errors.New("missing key")
	}
	key.LastUsedAt = &at
	return nil
}

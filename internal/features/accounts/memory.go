// Package accounts: memory.go keeps broadcasters in process for local runs
// and tests.
package accounts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"onair.fm/tipjar/internal/common"
)

type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Broadcaster
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Broadcaster)}
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Broadcaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.byID[id]; ok {
		return clone(b), nil
	}
	return nil, fmt.Errorf("%w (id=%s)", common.ErrBroadcasterNotFound, id)
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Broadcaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = common.NormalizeEmail(email)
	for _, b := range m.byID {
		if b.Email == email {
			return clone(b), nil
		}
	}
	return nil, fmt.Errorf("%w (email=%s)", common.ErrBroadcasterNotFound, email)
}

func (m *MemoryStore) GetByExternalID(ctx context.Context, externalID string) (*Broadcaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		if b.Account != nil && b.Account.ExternalID == externalID {
			return clone(b), nil
		}
	}
	return nil, fmt.Errorf("%w (account=%s)", common.ErrBroadcasterNotFound, externalID)
}

func (m *MemoryStore) Upsert(ctx context.Context, b *Broadcaster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	cur, ok := m.byID[b.ID]
	if !ok {
		cur = &Broadcaster{ID: b.ID, CreatedAt: now}
		m.byID[b.ID] = cur
	}
	cur.Email = common.NormalizeEmail(b.Email)
	cur.DisplayName = b.DisplayName
	if b.Account != nil && b.Account.ExternalID != "" {
		activated := cur.Account != nil && cur.Account.Activated
		cur.Account = &PayoutAccount{BroadcasterID: b.ID, ExternalID: b.Account.ExternalID, Activated: activated}
	}
	cur.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetActivated(ctx context.Context, broadcasterID string, activated bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[broadcasterID]
	if !ok {
		return false, fmt.Errorf("%w (id=%s)", common.ErrBroadcasterNotFound, broadcasterID)
	}
	if b.Account == nil || b.Account.Activated == activated {
		return false, nil
	}
	b.Account.Activated = activated
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Broadcaster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Broadcaster, 0, len(m.byID))
	for _, b := range m.byID {
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clone(b *Broadcaster) *Broadcaster {
	cp := *b
	if b.Account != nil {
		acc := *b.Account
		cp.Account = &acc
	}
	return &cp
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Package tips: memory.go is an in-process Ledger for tests and local runs
// (LEDGER_BACKEND=memory). Every operation holds one mutex, so the
// compare-and-set is atomic exactly like the database backends.
package tips

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps tips in a map. Tips are copied in and out so callers
// never share state with the store.
type MemoryLedger struct {
	mu   sync.Mutex
	tips map[string]*Tip
	now  func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tips: make(map[string]*Tip),
		now:  time.Now,
	}
}

func (m *MemoryLedger) Create(ctx context.Context, t *Tip) (string, error) {
	if err := validateNew(t); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tips[t.ID]; ok {
		return t.ID, nil
	}
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.tips[t.ID] = &cp
	return t.ID, nil
}

func (m *MemoryLedger) Get(ctx context.Context, id string) (*Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tips[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryLedger) FindByPayoutStatus(ctx context.Context, status PayoutStatus, f Filter) ([]*Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Tip
	for _, t := range m.tips {
		if t.PayoutStatus != status || !matches(t, f) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryLedger) CompareAndSetPayoutStatus(ctx context.Context, id string, expected, next PayoutStatus, tr Transition) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tips[id]
	if !ok {
		return false, notFound(id)
	}
	if t.PayoutStatus != expected {
		return false, nil
	}
	applyTransition(t, next, tr)
	t.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryLedger) SetPaymentStatus(ctx context.Context, id string, next PaymentStatus, paymentIntentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tips[id]
	if !ok {
		return false, notFound(id)
	}
	if !canSetPayment(t.PaymentStatus, next) {
		return false, nil
	}
	t.PaymentStatus = next
	if paymentIntentID != "" {
		t.PaymentIntentID = paymentIntentID
	}
	t.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryLedger) BindBroadcaster(ctx context.Context, id, broadcasterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tips[id]
	if !ok {
		return false, notFound(id)
	}
	if t.Broadcaster.IsResolved() {
		return false, nil
	}
	t.Broadcaster = BroadcasterRef{id: broadcasterID, email: t.Broadcaster.Email()}
	t.UpdatedAt = m.now()
	return true, nil
}

func matches(t *Tip, f Filter) bool {
	if f.BroadcasterID != "" {
		if id, ok := t.Broadcaster.ID(); !ok || id != f.BroadcasterID {
			return false
		}
	}
	if f.PendingEmail != "" {
		if t.Broadcaster.IsResolved() || t.Broadcaster.Email() != f.PendingEmail {
			return false
		}
	}
	if f.PaymentStatus != "" && t.PaymentStatus != f.PaymentStatus {
		return false
	}
	if !f.CreatedBefore.IsZero() && !t.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.ReallocatedSince.IsZero() && (t.ReallocatedAt == nil || t.ReallocatedAt.Before(f.ReallocatedSince)) {
		return false
	}
	return true
}

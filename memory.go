package transactionapp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ AccountStore        = (*MemoryEndpoint)(nil)
	_ AuthorizationLedger = (*MemoryEndpoint)(nil)
)

// userLock is a mutex that can be abandoned when the request context is
// cancelled while waiting, so a slow holder cannot block a caller past its
// deadline.
type userLock chan struct{}

func (l userLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l userLock) release() {
	<-l
}

// MemoryEndpoint is the in-process store. The per-user lock serializes
// every decide-and-mutate sequence for an account; the maps' own mutexes
// only guard map access, never the balance decision.
type MemoryEndpoint struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
	locks map[uuid.UUID]userLock

	ledMu  sync.RWMutex
	ledger map[string]AuthorizationRecord
	order  []string
}

func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{
		users:  make(map[uuid.UUID]*User),
		locks:  make(map[uuid.UUID]userLock),
		ledger: make(map[string]AuthorizationRecord),
	}
}

// Seed provisions development users, one per entry, mirroring the app's
// startup data. Invalid balances are skipped.
func (m *MemoryEndpoint) Seed(ctx context.Context, seed []SeedUser) ([]User, error) {
	created := make([]User, 0, len(seed))
	for _, su := range seed {
		bal, err := decimal.NewFromString(su.Balance)
		if err != nil {
			return created, err
		}
		u, err := m.CreateUser(ctx, User{Currency: su.Currency, Balance: bal})
		if err != nil {
			return created, err
		}
		created = append(created, *u)
	}
	return created, nil
}

func (m *MemoryEndpoint) CreateUser(_ context.Context, user User) (*User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u := user
	m.users[u.ID] = &u
	m.locks[u.ID] = make(userLock, 1)
	return &user, nil
}

func (m *MemoryEndpoint) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errUserNotFound(id.String())
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryEndpoint) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, nil
}

func (m *MemoryEndpoint) WithUserLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, u *User) error) error {
	m.mu.RLock()
	lock, ok := m.locks[id]
	m.mu.RUnlock()
	if !ok {
		return errUserNotFound(id.String())
	}

	if err := lock.acquire(ctx); err != nil {
		return ErrStorage{Op: "lock acquire", Err: err}
	}
	defer lock.release()

	m.mu.RLock()
	u, ok := m.users[id]
	m.mu.RUnlock()
	if !ok {
		return errUserNotFound(id.String())
	}

	// fn works on a copy; the stored user changes only on success.
	cp := *u
	if err := fn(ctx, &cp); err != nil {
		return err
	}

	m.mu.Lock()
	m.users[id] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryEndpoint) Exists(_ context.Context, messageID string) (bool, error) {
	m.ledMu.RLock()
	defer m.ledMu.RUnlock()
	_, ok := m.ledger[messageID]
	return ok, nil
}

func (m *MemoryEndpoint) Append(_ context.Context, rec AuthorizationRecord) error {
	m.ledMu.Lock()
	defer m.ledMu.Unlock()
	if _, ok := m.ledger[rec.MessageID]; !ok {
		m.order = append(m.order, rec.MessageID)
	}
	m.ledger[rec.MessageID] = rec
	return nil
}

func (m *MemoryEndpoint) List(_ context.Context) ([]AuthorizationRecord, error) {
	m.ledMu.RLock()
	defer m.ledMu.RUnlock()
	recs := make([]AuthorizationRecord, 0, len(m.order))
	for _, id := range m.order {
		recs = append(recs, m.ledger[id])
	}
	return recs, nil
}

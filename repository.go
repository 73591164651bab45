package transactionapp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a single-currency balance record. Balance is mutated only inside
// an AccountStore.WithUserLock scope.
type User struct {
	ID        uuid.UUID       `json:"id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AuthorizationRecord is an append-only record of a declined authorization
// attempt, keyed by messageId. Approved authorizations and loads are never
// recorded, so duplicate detection only covers previously declined ids.
type AuthorizationRecord struct {
	MessageID    string    `json:"messageId"`
	UserID       string    `json:"userId"`
	ResponseCode string    `json:"responseCode"`
	Balance      Amount    `json:"balance"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AccountStore owns the durable user-to-balance mapping and the per-user
// exclusive access discipline.
type AccountStore interface {
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// WithUserLock runs fn while holding exclusive access to the user's
	// balance. At most one fn executes for a given id at any time. The
	// mutated user is committed only if fn returns nil; any error from fn
	// aborts the scope without committing partial state. The context
	// handed to fn is scoped to the exclusive access: ledger appends made
	// with it commit or abort together with the balance mutation.
	WithUserLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, u *User) error) error
}

// AuthorizationLedger is the append-only store of declined authorization
// attempts. Append must be safe under concurrent appends for different
// messageIds.
type AuthorizationLedger interface {
	Exists(ctx context.Context, messageID string) (bool, error)
	Append(ctx context.Context, rec AuthorizationRecord) error
	List(ctx context.Context) ([]AuthorizationRecord, error)
}

// EventPublisher emits a TransactionResult after each committed
// authorize/load outcome. Failures are logged, never surfaced to callers.
type EventPublisher interface {
	Publish(ctx context.Context, event TransactionResult) error
}

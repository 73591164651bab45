package transactionapp

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	_ Service = (*validationMiddleware)(nil)
)

type Middleware func(Service) Service

// validationMiddleware runs the business-rule checks in a fixed order and
// short-circuits on the first failure, before the wrapped service takes
// any exclusive access. Read-only; no side effects.
type validationMiddleware struct {
	next     Service
	accounts AccountStore
	ledger   AuthorizationLedger
}

func NewValidationMiddleware(accounts AccountStore, ledger AuthorizationLedger) Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next:     svc,
			accounts: accounts,
			ledger:   ledger,
		}
	}
}

func (v *validationMiddleware) Authorize(ctx context.Context, messageID string, req AuthorizationRequest) (*AuthorizationResponse, error) {
	if err := v.validate(ctx, messageID, req.MessageID, req.UserID, req.TransactionAmount, DebitTransaction); err != nil {
		return nil, err
	}
	return v.next.Authorize(ctx, messageID, req)
}

func (v *validationMiddleware) Load(ctx context.Context, messageID string, req LoadRequest) (*LoadResponse, error) {
	if err := v.validate(ctx, messageID, req.MessageID, req.UserID, req.TransactionAmount, CreditTransaction); err != nil {
		return nil, err
	}
	return v.next.Load(ctx, messageID, req)
}

// validate is the shared chain. Order matters: it determines which error
// is reported for a request failing several checks at once.
func (v *validationMiddleware) validate(ctx context.Context, pathID, bodyID, userID string, ta Amount, wantKind string) error {
	if pathID != bodyID {
		return errMessageIDMismatch(pathID, bodyID)
	}

	exists, err := v.ledger.Exists(ctx, pathID)
	if err != nil {
		return ErrStorage{Op: "ledger lookup", Err: err}
	}
	if exists {
		return errDuplicateMessageID(pathID)
	}

	if ta.DebitOrCredit != wantKind {
		return errInvalidTransactionType(wantKind)
	}

	uid, err := uuid.Parse(userID)
	if err != nil {
		return errInvalidUserID(userID)
	}

	u, err := v.accounts.GetUser(ctx, uid)
	if err != nil {
		var ve ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return ErrStorage{Op: "user lookup", Err: err}
	}

	if u.Currency != ta.Currency {
		return errCurrencyMismatch(u.Currency, ta.Currency)
	}

	return nil
}

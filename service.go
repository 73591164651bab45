package transactionapp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DebitTransaction  = "DEBIT"
	CreditTransaction = "CREDIT"

	ResponseApproved = "APPROVED"
	ResponseDeclined = "DECLINED"
)

// Amount is a transaction amount carried by value in requests and
// responses. Field-shape rules (positive, at most 2 fractional digits,
// below 1e9, supported currency and kind) are enforced by the transport
// layer before the business-rule chain runs.
type Amount struct {
	Amount        string `json:"amount" validate:"required,txnamount"`
	Currency      string `json:"currency" validate:"required,oneof=USD INR"`
	DebitOrCredit string `json:"debitOrCredit" validate:"required,oneof=DEBIT CREDIT"`
}

type AuthorizationRequest struct {
	UserID            string `json:"userId" validate:"required"`
	MessageID         string `json:"messageId" validate:"required"`
	TransactionAmount Amount `json:"transactionAmount" validate:"required"`
}

type LoadRequest struct {
	UserID            string `json:"userId" validate:"required"`
	MessageID         string `json:"messageId" validate:"required"`
	TransactionAmount Amount `json:"transactionAmount" validate:"required"`
}

type AuthorizationResponse struct {
	MessageID    string `json:"messageId"`
	UserID       string `json:"userId"`
	ResponseCode string `json:"responseCode"`
	Balance      Amount `json:"balance"`
}

type LoadResponse struct {
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
	Balance   Amount `json:"balance"`
}

type Service interface {
	// Authorize attempts a DEBIT against the user's balance. Sufficient
	// funds (equality included) approve and debit the account; otherwise
	// the attempt is declined and recorded in the ledger. The account is
	// untouched on decline.
	Authorize(ctx context.Context, messageID string, req AuthorizationRequest) (*AuthorizationResponse, error)

	// Load credits the user's balance unconditionally.
	Load(ctx context.Context, messageID string, req LoadRequest) (*LoadResponse, error)
}

func NewService(accounts AccountStore, ledger AuthorizationLedger, events EventPublisher, log *zerolog.Logger) *serviceImpl {
	if events == nil {
		events = NopPublisher{}
	}
	return &serviceImpl{
		accounts: accounts,
		ledger:   ledger,
		events:   events,
		log:      log,
	}
}

type serviceImpl struct {
	accounts AccountStore
	ledger   AuthorizationLedger
	events   EventPublisher
	log      *zerolog.Logger
}

var (
	_ Service = (*serviceImpl)(nil)
)

func (s *serviceImpl) Authorize(ctx context.Context, messageID string, req AuthorizationRequest) (*AuthorizationResponse, error) {
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, errInvalidUserID(req.UserID)
	}
	amount, err := decimal.NewFromString(req.TransactionAmount.Amount)
	if err != nil {
		return nil, ErrBadRequest{Fields: map[string]string{"transactionAmount.amount": "invalid decimal"}}
	}

	var resp *AuthorizationResponse
	// The decision and the mutation (or ledger append) both happen while
	// holding the user's exclusive lock; a second caller cannot observe a
	// balance between this caller's read and write.
	err = s.accounts.WithUserLock(ctx, uid, func(ctx context.Context, u *User) error {
		if u.Balance.GreaterThanOrEqual(amount) {
			u.Balance = u.Balance.Sub(amount)
			resp = &AuthorizationResponse{
				MessageID:    req.MessageID,
				UserID:       req.UserID,
				ResponseCode: ResponseApproved,
				Balance: Amount{
					Amount:        formatAmount(u.Balance),
					Currency:      req.TransactionAmount.Currency,
					DebitOrCredit: DebitTransaction,
				},
			}
			return nil
		}

		resp = &AuthorizationResponse{
			MessageID:    req.MessageID,
			UserID:       req.UserID,
			ResponseCode: ResponseDeclined,
			Balance: Amount{
				Amount:        formatAmount(amount),
				Currency:      req.TransactionAmount.Currency,
				DebitOrCredit: DebitTransaction,
			},
		}
		rec := AuthorizationRecord{
			MessageID:    req.MessageID,
			UserID:       req.UserID,
			ResponseCode: ResponseDeclined,
			Balance:      resp.Balance,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.ledger.Append(ctx, rec); err != nil {
			return ErrStorage{Op: "ledger append", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.ResponseCode == ResponseApproved {
		s.log.Info().
			Str("user_id", req.UserID).
			Str("amount", req.TransactionAmount.Amount).
			Str("currency", req.TransactionAmount.Currency).
			Msg("transaction authorized")
	} else {
		s.log.Info().
			Str("user_id", req.UserID).
			Msg("transaction declined due to insufficient balance")
	}
	s.publish(ctx, messageID, req.UserID, resp.ResponseCode, req.TransactionAmount)

	return resp, nil
}

func (s *serviceImpl) Load(ctx context.Context, messageID string, req LoadRequest) (*LoadResponse, error) {
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, errInvalidUserID(req.UserID)
	}
	amount, err := decimal.NewFromString(req.TransactionAmount.Amount)
	if err != nil {
		return nil, ErrBadRequest{Fields: map[string]string{"transactionAmount.amount": "invalid decimal"}}
	}

	var resp *LoadResponse
	err = s.accounts.WithUserLock(ctx, uid, func(_ context.Context, u *User) error {
		u.Balance = u.Balance.Add(amount)
		resp = &LoadResponse{
			UserID:    req.UserID,
			MessageID: req.MessageID,
			Balance: Amount{
				Amount:        formatAmount(u.Balance),
				Currency:      req.TransactionAmount.Currency,
				DebitOrCredit: CreditTransaction,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", req.UserID).
		Str("balance", resp.Balance.Amount).
		Str("currency", req.TransactionAmount.Currency).
		Msg("funds loaded")
	s.publish(ctx, messageID, req.UserID, ResponseApproved, req.TransactionAmount)

	return resp, nil
}

func (s *serviceImpl) publish(ctx context.Context, messageID, userID, code string, ta Amount) {
	ev := TransactionResult{
		MessageID:     messageID,
		UserID:        userID,
		ResponseCode:  code,
		Amount:        ta.Amount,
		Currency:      ta.Currency,
		DebitOrCredit: ta.DebitOrCredit,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("result event publish failed")
	}
}

// formatAmount renders a decimal the way the responses expect: integral
// values carry a single trailing zero ("180.0"), everything else prints
// its exact digits.
func formatAmount(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.StringFixed(1)
	}
	return d.String()
}

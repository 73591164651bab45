package transactionapp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	transactionapp "github.com/nileshrathi99/transaction-app"
	"github.com/nileshrathi99/transaction-app/mocks"
)

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var verr transactionapp.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Code
}

func TestValidationChain(t *testing.T) {
	ctx := context.Background()
	uid := uuid.New()

	baseReq := func() transactionapp.AuthorizationRequest {
		return transactionapp.AuthorizationRequest{
			UserID:    uid.String(),
			MessageID: "msg-1",
			TransactionAmount: transactionapp.Amount{
				Amount:        "20",
				Currency:      "USD",
				DebitOrCredit: transactionapp.DebitTransaction,
			},
		}
	}

	t.Run("rejects path/body messageId mismatch before any lookup", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		_, err := v.Authorize(ctx, "other-msg", baseReq())
		as.Equal(transactionapp.CodeMessageIDMismatch, validationCode(tt, err))
	})

	t.Run("rejects a previously declined messageId", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(true, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		_, err := v.Authorize(ctx, "msg-1", baseReq())
		as.Equal(transactionapp.CodeDuplicateMessageID, validationCode(tt, err))
	})

	t.Run("rejects a CREDIT on the authorize path", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		req := baseReq()
		req.TransactionAmount.DebitOrCredit = transactionapp.CreditTransaction
		_, err := v.Authorize(ctx, "msg-1", req)
		as.Equal(transactionapp.CodeInvalidTransactionType, validationCode(tt, err))
	})

	t.Run("rejects a DEBIT on the load path", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		req := transactionapp.LoadRequest{
			UserID:    uid.String(),
			MessageID: "msg-1",
			TransactionAmount: transactionapp.Amount{
				Amount:        "20",
				Currency:      "USD",
				DebitOrCredit: transactionapp.DebitTransaction,
			},
		}
		_, err := v.Load(ctx, "msg-1", req)
		as.Equal(transactionapp.CodeInvalidTransactionType, validationCode(tt, err))
	})

	t.Run("rejects a non-UUID userId", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		req := baseReq()
		req.UserID = "not-a-uuid"
		_, err := v.Authorize(ctx, "msg-1", req)
		as.Equal(transactionapp.CodeInvalidUserID, validationCode(tt, err))
	})

	t.Run("rejects an unknown user", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		accounts.EXPECT().GetUser(ctx, uid).Return(nil, transactionapp.ValidationError{
			Code:   transactionapp.CodeUserNotFound,
			Detail: "user not found",
		})
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		_, err := v.Authorize(ctx, "msg-1", baseReq())
		as.Equal(transactionapp.CodeUserNotFound, validationCode(tt, err))
	})

	t.Run("rejects a currency mismatch", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		accounts.EXPECT().GetUser(ctx, uid).Return(&transactionapp.User{
			ID:       uid,
			Currency: "INR",
			Balance:  decimal.NewFromInt(500),
		}, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		_, err := v.Authorize(ctx, "msg-1", baseReq())
		as.Equal(transactionapp.CodeCurrencyMismatch, validationCode(tt, err))
	})

	t.Run("reports the earliest failing check when several apply", func(tt *testing.T) {
		// mismatched messageId and wrong kind at once; order fixes the error
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		req := baseReq()
		req.TransactionAmount.DebitOrCredit = transactionapp.CreditTransaction
		_, err := v.Authorize(ctx, "other-msg", req)
		as.Equal(transactionapp.CodeMessageIDMismatch, validationCode(tt, err))
	})

	t.Run("delegates to the wrapped service when all checks pass", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, nil)
		accounts.EXPECT().GetUser(ctx, uid).Return(&transactionapp.User{
			ID:       uid,
			Currency: "USD",
			Balance:  decimal.NewFromInt(200),
		}, nil)
		want := &transactionapp.AuthorizationResponse{
			MessageID:    "msg-1",
			UserID:       uid.String(),
			ResponseCode: transactionapp.ResponseApproved,
		}
		next.EXPECT().
			Authorize(ctx, "msg-1", gomock.AssignableToTypeOf(transactionapp.AuthorizationRequest{})).
			Return(want, nil)
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		resp, err := v.Authorize(ctx, "msg-1", baseReq())
		reqrd.NoError(err)
		as.Equal(want, resp)
	})

	t.Run("wraps a ledger lookup failure as a storage error", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		accounts := mocks.NewMockAccountStore(ctrl)
		ledger := mocks.NewMockAuthorizationLedger(ctrl)
		next := mocks.NewMockService(ctrl)
		ledger.EXPECT().Exists(ctx, "msg-1").Return(false, errors.New("connection reset"))
		v := transactionapp.NewValidationMiddleware(accounts, ledger)(next)

		_, err := v.Authorize(ctx, "msg-1", baseReq())
		var serr transactionapp.ErrStorage
		as.ErrorAs(err, &serr)
	})
}

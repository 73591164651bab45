package transactionapp_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	transactionapp "github.com/nileshrathi99/transaction-app"
)

func TestWithUserLock(t *testing.T) {
	ctx := context.Background()

	t.Run("commits the mutated user on success", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)

		err := mem.WithUserLock(ctx, u.ID, func(_ context.Context, u *transactionapp.User) error {
			u.Balance = u.Balance.Sub(decimal.NewFromInt(30))
			return nil
		})
		reqrd.NoError(err)

		persisted, err := mem.GetUser(ctx, u.ID)
		reqrd.NoError(err)
		as.True(persisted.Balance.Equal(decimal.NewFromInt(70)))
	})

	t.Run("discards the mutation when fn fails", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)

		boom := errors.New("boom")
		err := mem.WithUserLock(ctx, u.ID, func(_ context.Context, u *transactionapp.User) error {
			u.Balance = decimal.NewFromInt(0)
			return boom
		})
		reqrd.ErrorIs(err, boom)

		persisted, err := mem.GetUser(ctx, u.ID)
		reqrd.NoError(err)
		as.True(persisted.Balance.Equal(decimal.NewFromInt(100)))
	})

	t.Run("fails for an unknown user", func(tt *testing.T) {
		as := assert.New(tt)
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)
		other := u
		other.ID[0] ^= 0xff

		err := mem.WithUserLock(ctx, other.ID, func(context.Context, *transactionapp.User) error { return nil })
		var verr transactionapp.ValidationError
		as.ErrorAs(err, &verr)
		as.Equal(transactionapp.CodeUserNotFound, verr.Code)
	})

	t.Run("gives up waiting when the context is done", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)

		entered := make(chan struct{})
		unblock := make(chan struct{})
		go func() {
			_ = mem.WithUserLock(ctx, u.ID, func(context.Context, *transactionapp.User) error {
				close(entered)
				<-unblock
				return nil
			})
		}()
		<-entered

		wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := mem.WithUserLock(wctx, u.ID, func(context.Context, *transactionapp.User) error { return nil })
		var serr transactionapp.ErrStorage
		reqrd.ErrorAs(err, &serr)
		as.ErrorIs(err, context.DeadlineExceeded)
		close(unblock)
	})
}

func TestLedgerAppend(t *testing.T) {
	t.Run("re-appending a message id overwrites in place", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctx := context.Background()
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)

		rec := transactionapp.AuthorizationRecord{
			MessageID:    "dup-1",
			UserID:       u.ID.String(),
			ResponseCode: transactionapp.ResponseDeclined,
			Balance: transactionapp.Amount{
				Amount:        "500.0",
				Currency:      "USD",
				DebitOrCredit: transactionapp.DebitTransaction,
			},
			CreatedAt: time.Now().UTC(),
		}
		reqrd.NoError(mem.Append(ctx, rec))

		rec.Balance.Amount = "750.0"
		reqrd.NoError(mem.Append(ctx, rec))

		recs, err := mem.List(ctx)
		reqrd.NoError(err)
		reqrd.Len(recs, 1)
		as.Equal("750.0", recs[0].Balance.Amount)
	})
}

func TestConcurrentAuthorize(t *testing.T) {
	t.Run("serializes decide-and-mutate per user", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		nooplog := zerolog.Nop()
		ctx := context.Background()

		const n = 10
		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 100)
		svc := transactionapp.NewService(mem, mem, nil, &nooplog)

		// n callers each debit balance/n; every one must observe a distinct
		// pre-mutation balance, so all must be approved and the account
		// must land exactly on zero.
		var eg errgroup.Group
		approvals := make([]string, n)
		for i := 0; i < n; i++ {
			i := i
			eg.Go(func() error {
				resp, err := svc.Authorize(ctx, "msg", authReq(u, "msg", "10"))
				if err != nil {
					return err
				}
				approvals[i] = resp.ResponseCode
				return nil
			})
		}
		reqrd.NoError(eg.Wait())

		for i := 0; i < n; i++ {
			as.Equal(transactionapp.ResponseApproved, approvals[i])
		}
		persisted, err := mem.GetUser(ctx, u.ID)
		reqrd.NoError(err)
		as.True(persisted.Balance.IsZero(), "lost update: final balance %s", persisted.Balance)
	})

	t.Run("interleaved loads and authorizes never lose an update", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		nooplog := zerolog.Nop()
		ctx := context.Background()

		mem := transactionapp.NewMemoryEndpoint()
		u := seedUser(tt, mem, "USD", 0)
		svc := transactionapp.NewService(mem, mem, nil, &nooplog)

		const n = 8
		var eg errgroup.Group
		for i := 0; i < n; i++ {
			loadID := fmt.Sprintf("load-%d", i)
			authID := fmt.Sprintf("auth-%d", i)
			eg.Go(func() error {
				_, err := svc.Load(ctx, loadID, loadReq(u, loadID, "25"))
				return err
			})
			eg.Go(func() error {
				// approved or declined depending on interleaving; either
				// way the balance arithmetic must stay consistent
				_, err := svc.Authorize(ctx, authID, authReq(u, authID, "25"))
				return err
			})
		}
		reqrd.NoError(eg.Wait())

		persisted, err := mem.GetUser(ctx, u.ID)
		reqrd.NoError(err)
		recs, err := mem.List(ctx)
		reqrd.NoError(err)

		// loads added 25n; each of the n-len(recs) approvals subtracted 25,
		// so the final balance is 25 per declined attempt.
		want := decimal.NewFromInt(25).Mul(decimal.NewFromInt(int64(len(recs))))
		as.True(persisted.Balance.Equal(want),
			"balance %s, declines %d", persisted.Balance, len(recs))
	})
}

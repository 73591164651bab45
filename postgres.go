package transactionapp

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgSchemaSQL = `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			currency TEXT NOT NULL,
			balance NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS authorization_responses (
			message_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			response_code TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			debit_or_credit TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	pgInsertUserSQL = `
		INSERT INTO users (id, currency, balance, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at;
	`

	pgSelectUserSQL = `
		SELECT currency, balance, created_at
		FROM users
		WHERE id = $1;
	`

	pgSelectForUpdateUserSQL = `
		SELECT currency, balance, created_at
		FROM users
		WHERE id = $1
		FOR UPDATE;
	`

	pgUpdateBalanceSQL = `
		UPDATE users
		SET balance = $1
		WHERE id = $2;
	`

	pgInsertRecordSQL = `
		INSERT INTO authorization_responses
			(message_id, user_id, response_code, amount, currency, debit_or_credit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			response_code = EXCLUDED.response_code,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			debit_or_credit = EXCLUDED.debit_or_credit,
			created_at = EXCLUDED.created_at;
	`
)

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

var (
	_ AccountStore        = (*PostgresEndpoint)(nil)
	_ AuthorizationLedger = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	endpt := &PostgresEndpoint{
		pool: pool,
		log:  log,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) InitSchema(ctx context.Context) error {
	_, err := pg.pool.Exec(ctx, pgSchemaSQL)
	return err
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}

func (pg *PostgresEndpoint) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, pgInsertUserSQL, user.ID, user.Currency, user.Balance)
	if err = row.Scan(&user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (pg *PostgresEndpoint) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	u := User{ID: id}
	row := conn.QueryRow(ctx, pgSelectUserSQL, id)
	if err = row.Scan(&u.Currency, &u.Balance, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errUserNotFound(id.String())
		}
		return nil, err
	}
	return &u, nil
}

func (pg *PostgresEndpoint) ListUsers(ctx context.Context) ([]User, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT id, currency, balance, created_at FROM users ORDER BY created_at;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.ID, &u.Currency, &u.Balance, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// lockTxKey carries the row-lock transaction in the context handed to a
// WithUserLock closure, so ledger writes made inside the closure join it
// instead of acquiring a second pool connection (which can wedge the pool
// behind the row lock the first connection holds).
type lockTxKey struct{}

func lockTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(lockTxKey{}).(pgx.Tx)
	return tx, ok
}

// WithUserLock holds a row lock on the user for the whole decide-and-mutate
// sequence. The balance write, and any ledger append fn makes with the
// context it receives, commit only if fn returns nil.
func (pg *PostgresEndpoint) WithUserLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, u *User) error) error {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return ErrStorage{Op: "conn acquire", Err: err}
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ErrStorage{Op: "tx begin", Err: err}
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			pg.log.Err(err).Str("user_id", id.String()).Msg("user lock tx rollback fail")
		}
	}()

	u := User{ID: id}
	row := tx.QueryRow(ctx, pgSelectForUpdateUserSQL, id)
	if err = row.Scan(&u.Currency, &u.Balance, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errUserNotFound(id.String())
		}
		return ErrStorage{Op: "user select", Err: err}
	}

	before := u.Balance
	if err = fn(context.WithValue(ctx, lockTxKey{}, tx), &u); err != nil {
		return err
	}

	if !u.Balance.Equal(before) {
		if _, err = tx.Exec(ctx, pgUpdateBalanceSQL, u.Balance, id); err != nil {
			return ErrStorage{Op: "balance update", Err: err}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return ErrStorage{Op: "tx commit", Err: err}
	}
	return nil
}

func (pg *PostgresEndpoint) Exists(ctx context.Context, messageID string) (bool, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var exists bool
	row := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authorization_responses WHERE message_id = $1);`, messageID)
	if err = row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (pg *PostgresEndpoint) Append(ctx context.Context, rec AuthorizationRecord) error {
	if tx, ok := lockTx(ctx); ok {
		_, err := tx.Exec(ctx, pgInsertRecordSQL,
			rec.MessageID,
			rec.UserID,
			rec.ResponseCode,
			rec.Balance.Amount,
			rec.Balance.Currency,
			rec.Balance.DebitOrCredit,
			rec.CreatedAt,
		)
		return err
	}

	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, pgInsertRecordSQL,
		rec.MessageID,
		rec.UserID,
		rec.ResponseCode,
		rec.Balance.Amount,
		rec.Balance.Currency,
		rec.Balance.DebitOrCredit,
		rec.CreatedAt,
	)
	return err
}

func (pg *PostgresEndpoint) List(ctx context.Context) ([]AuthorizationRecord, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT message_id, user_id, response_code, amount, currency, debit_or_credit, created_at
		FROM authorization_responses
		ORDER BY created_at;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AuthorizationRecord
	for rows.Next() {
		var rec AuthorizationRecord
		if err = rows.Scan(
			&rec.MessageID,
			&rec.UserID,
			&rec.ResponseCode,
			&rec.Balance.Amount,
			&rec.Balance.Currency,
			&rec.Balance.DebitOrCredit,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Seed inserts development users if the table is empty.
func (pg *PostgresEndpoint) Seed(ctx context.Context, seed []SeedUser) ([]User, error) {
	var count int
	if err := pg.pool.QueryRow(ctx, `SELECT count(*) FROM users;`).Scan(&count); err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}

	created := make([]User, 0, len(seed))
	for _, su := range seed {
		bal, err := decimal.NewFromString(su.Balance)
		if err != nil {
			return created, err
		}
		u, err := pg.CreateUser(ctx, User{Currency: su.Currency, Balance: bal})
		if err != nil {
			return created, err
		}
		created = append(created, *u)
	}
	return created, nil
}

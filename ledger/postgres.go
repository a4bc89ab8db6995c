package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds every ledger query so a slow database never blocks a
// settlement response indefinitely.
const queryTimeout = 10 * time.Second

// PostgresStore is a Store backed by a connection pool. Schema:
//
//	CREATE TABLE IF NOT EXISTS payment_ledger (
//	    payer       TEXT NOT NULL,
//	    nonce       TEXT NOT NULL,
//	    pay_to      TEXT NOT NULL,
//	    asset       TEXT NOT NULL,
//	    amount      TEXT NOT NULL,
//	    network     TEXT NOT NULL,
//	    mode        TEXT NOT NULL,
//	    order_id    TEXT NOT NULL DEFAULT '',
//	    transaction TEXT NOT NULL,
//	    request_id  TEXT NOT NULL DEFAULT '',
//	    settled_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (payer, nonce)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// schemaSQL is applied by migrate on startup; it is intentionally minimal
// since this ledger is an append-only audit log, not a transactional
// workflow table (contrast yv-was-taken-stronghold's payment_transactions,
// which tracks a reserve/execute/settle state machine this gateway does not
// need: settlement here is a single synchronous call, not a multi-phase one).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS payment_ledger (
	payer       TEXT NOT NULL,
	nonce       TEXT NOT NULL,
	pay_to      TEXT NOT NULL,
	asset       TEXT NOT NULL,
	amount      TEXT NOT NULL,
	network     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	order_id    TEXT NOT NULL DEFAULT '',
	transaction TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	settled_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (payer, nonce)
);
`

// DialPostgres connects to connString (a standard postgres:// URL) and
// ensures the ledger table exists.
func DialPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `
		INSERT INTO payment_ledger
			(payer, nonce, pay_to, asset, amount, network, mode, order_id, transaction, request_id, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (payer, nonce) DO NOTHING
	`
	settledAt := e.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx, q, e.Payer, e.Nonce, e.PayTo, e.Asset, e.Amount, e.Network, e.Mode, e.OrderID, e.Transaction, e.RequestID, settledAt)
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateNonce
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, payer, nonce string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `
		SELECT payer, nonce, pay_to, asset, amount, network, mode, order_id, transaction, request_id, settled_at
		FROM payment_ledger WHERE payer = $1 AND nonce = $2
	`
	var e Entry
	err := s.pool.QueryRow(ctx, q, payer, nonce).Scan(
		&e.Payer, &e.Nonce, &e.PayTo, &e.Asset, &e.Amount, &e.Network, &e.Mode, &e.OrderID, &e.Transaction, &e.RequestID, &e.SettledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger: lookup: %w", err)
	}
	return e, true, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT payer, nonce, pay_to, asset, amount, network, mode, order_id, transaction, request_id, settled_at
		FROM payment_ledger ORDER BY settled_at DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.Payer, &e.Nonce, &e.PayTo, &e.Asset, &e.Amount, &e.Network, &e.Mode, &e.OrderID, &e.Transaction, &e.RequestID, &e.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: recent scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)

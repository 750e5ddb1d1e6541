package subscriber

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Store backed by PostgreSQL. All mutations are single
// statements, so each call is atomic without explicit transactions.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store using the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("subscriber: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const recordColumns = `user_id, username, COALESCE(payment_ref, ''), status, expiry_at, created_at, updated_at`

func (s *PGStore) Get(ctx context.Context, userID int64) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscribers WHERE user_id = $1`, userID)
	return scanRecord(row)
}

func (s *PGStore) GetByPaymentRef(ctx context.Context, ref string) (*Record, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscribers WHERE payment_ref = $1`, ref)
	return scanRecord(row)
}

func (s *PGStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (user_id, username, payment_ref, status, expiry_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			username    = EXCLUDED.username,
			payment_ref = EXCLUDED.payment_ref,
			status      = EXCLUDED.status,
			expiry_at   = EXCLUDED.expiry_at,
			updated_at  = now()`,
		rec.UserID, rec.Username, rec.PaymentRef, string(rec.Status), rec.ExpiryAt)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *PGStore) SelectExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM subscribers WHERE status = $1 AND expiry_at < $2`,
		string(StatusActive), now)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return out, nil
}

// ExpireDue relies on the conditional UPDATE being a single atomic statement:
// a record renewed between any "selection" and this update simply no longer
// matches the WHERE clause and is left alone.
func (s *PGStore) ExpireDue(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE subscribers
		SET status = $1, updated_at = now()
		WHERE status = $2 AND expiry_at < $3
		RETURNING user_id`,
		string(StatusExpired), string(StatusActive), now)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Join(ErrStore, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return ids, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.UserID, &rec.Username, &rec.PaymentRef, &status,
		&rec.ExpiryAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrStore, err)
	}
	rec.Status = Status(status)
	return &rec, nil
}

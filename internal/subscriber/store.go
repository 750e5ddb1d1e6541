package subscriber

import (
	"context"
	"time"
)

// Store defines the interface for subscription persistence. Records are
// addressable by user ID (purchase flow) and by payment reference (webhook
// flow). Every operation is atomic per call.
type Store interface {
	// Get retrieves a record by Telegram user ID.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, userID int64) (*Record, error)

	// GetByPaymentRef retrieves a record by its most recent payment reference.
	// Returns ErrNotFound if no record carries the reference.
	GetByPaymentRef(ctx context.Context, ref string) (*Record, error)

	// Upsert creates or updates a record keyed by UserID.
	Upsert(ctx context.Context, rec *Record) error

	// SelectExpired returns records with status active and expiry before now.
	// Read-only; use ExpireDue to transition them.
	SelectExpired(ctx context.Context, now time.Time) ([]*Record, error)

	// ExpireDue atomically transitions every record matching
	// (status=active AND expiry_at < now) to expired and returns the affected
	// user IDs. The condition and the update are one operation, so a record
	// renewed concurrently is left untouched.
	ExpireDue(ctx context.Context, now time.Time) ([]int64, error)
}

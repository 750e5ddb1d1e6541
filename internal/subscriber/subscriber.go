package subscriber

import "time"

// Status represents the current state of a subscription record.
type Status string

const (
	// StatusNone means no purchase has ever been initiated.
	StatusNone Status = "none"
	// StatusPending means an invoice was issued and payment is awaited.
	StatusPending Status = "pending"
	// StatusActive means access is granted until ExpiryAt.
	StatusActive Status = "active"
	// StatusExpired means a previously active subscription ran out or a
	// renewal payment failed.
	StatusExpired Status = "expired"
	// StatusCanceled means an initial purchase attempt failed before access
	// was ever granted.
	StatusCanceled Status = "canceled"
)

// Record is the durable per-user subscription state. One record per Telegram
// user; records are never deleted and serve as audit history. A user may
// re-purchase after expired/canceled, re-entering pending.
type Record struct {
	UserID     int64  // Telegram user ID, primary key
	Username   string // last known Telegram username, informational
	PaymentRef string // gateway reference of the most recent payment attempt
	Status     Status
	ExpiryAt   *time.Time // meaningful only while Status is active
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the record grants access at the given time.
func (r *Record) IsActive(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiryAt != nil && r.ExpiryAt.After(now)
}

// HasAccess reports whether the subscriber currently holds channel access,
// regardless of whether the expiry sweep has caught up yet.
func (r *Record) HasAccess() bool {
	return r.Status == StatusActive
}

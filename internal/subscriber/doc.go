// Package subscriber holds the durable per-user subscription state and its
// persistence contract.
//
// One Record exists per Telegram user, addressable both by user ID (the
// purchase flow knows who is buying) and by payment reference (the webhook
// flow only knows which invoice was paid). Records move through the statuses
// none -> pending -> active -> expired, with canceled as the terminal state
// of a failed initial purchase; they are never deleted.
//
// Two Store implementations are provided: MemoryStore for tests and
// ephemeral runs, and PGStore backed by PostgreSQL via pgx. The ExpireDue
// operation is deliberately a single conditional UPDATE so the expiry sweep
// cannot clobber a concurrent renewal.
package subscriber

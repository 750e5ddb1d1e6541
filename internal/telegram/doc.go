// Package telegram is the chat transport collaborator: a minimal Bot API
// client plus the two loops built on it. The Executor turns lifecycle
// effect instructions (grant, revoke, notify) into Bot API calls, and the
// Listener long-polls for user commands and join requests, funneling them
// into the purchase flow.
//
// The package never decides anything about subscriptions; all state
// transitions happen in the lifecycle coordinator. Delivery here is
// best-effort with bounded retries.
package telegram

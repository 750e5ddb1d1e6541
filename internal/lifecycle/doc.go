// Package lifecycle implements the subscription state machine at the heart
// of the service.
//
// Three asynchronous signals feed into it: user-initiated purchase requests,
// payment-provider webhook callbacks, and the periodic expiry sweep. The
// Coordinator reconciles them into a single consistent membership decision
// per user while holding three invariants:
//
//   - no duplicate grants: a grant instruction is emitted only when the user
//     did not already hold access, and exact webhook redeliveries are
//     suppressed within a bounded replay window;
//   - no premature revocation: the sweep's select-and-update is one atomic
//     store operation, so a renewal landing mid-sweep always wins;
//   - idempotent webhook processing: replaying an identical
//     (payment_ref, outcome) pair is a no-op.
//
// The Coordinator decides; it never executes. Side effects — grant access,
// revoke access, notify — come back as Effect instructions for the chat
// transport to carry out, keeping this package free of network dependencies.
package lifecycle

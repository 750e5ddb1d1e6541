// Package hook receives asynchronous payment notifications from the
// provider, authenticates them, normalizes the payload into an internal
// event, and drives the subscription lifecycle coordinator with it.
//
// Every authenticated delivery is acknowledged with HTTP 200 regardless of
// whether the payload could be applied. The provider redelivers on non-2xx
// responses, so bouncing a malformed or unknown payload would only create a
// retry storm for an event that will never become applicable.
package hook

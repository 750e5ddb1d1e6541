package lifecycle

// EffectKind identifies a side effect the transport collaborator must execute.
type EffectKind string

const (
	// EffectGrantAccess instructs the transport to let the user into the
	// private channel (invite link) and deliver Message alongside.
	EffectGrantAccess EffectKind = "grant_access"
	// EffectRevokeAccess instructs the transport to remove the user from the
	// private channel.
	EffectRevokeAccess EffectKind = "revoke_access"
	// EffectNotify instructs the transport to deliver Message to the user.
	EffectNotify EffectKind = "notify"
)

// Effect is a side-effect instruction emitted by the coordinator. The
// coordinator never talks to the chat transport itself; it returns effects
// and the caller executes them, which keeps the decision logic testable
// without a live connection.
type Effect struct {
	Kind    EffectKind
	UserID  int64
	Message string // set for grant_access and notify
}

// RevokedUsers extracts the user IDs of all revoke-access instructions.
func RevokedUsers(effects []Effect) []int64 {
	var ids []int64
	for _, e := range effects {
		if e.Kind == EffectRevokeAccess {
			ids = append(ids, e.UserID)
		}
	}
	return ids
}

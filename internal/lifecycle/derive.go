package lifecycle

import "time"

// Conditions is a snapshot of the external signals the orchestrator watches.
// It is recomputed on every signal change and never persisted.
//
// GuestID, HasGuestData and NeedsSeed are only gathered while Initializing;
// they are zero in every other snapshot.
type Conditions struct {
	UserID              string
	IsAnonymous         bool
	IsPremium           bool
	EntitlementVerified bool
	GuestID             string
	HasGuestData        bool
	NeedsSeed           bool
	HasUploadQueue      bool
	ObservedAt          time.Time
}

// Derive maps a state and a conditions snapshot to at most one event.
//
// Nothing but AppStart is derived while the entitlement has not been
// verified over the network: a cached entitlement may be stale. Derive is
// idempotent; the orchestrator calls it after every signal change and after
// every committed transition.
func Derive(s State, c Conditions) (Event, bool) {
	if s == nil {
		return AppStart{}, true
	}
	if _, ok := s.(Uninitialized); ok {
		return AppStart{}, true
	}
	if !c.EntitlementVerified || c.UserID == "" {
		return nil, false
	}

	switch st := s.(type) {
	case Initializing:
		return InitComplete{
			UserID:         c.UserID,
			IsAnonymous:    c.IsAnonymous,
			IsPremium:      c.IsPremium,
			GuestID:        c.GuestID,
			HasGuestData:   c.HasGuestData,
			NeedsSeed:      c.NeedsSeed,
			HasUploadQueue: c.HasUploadQueue,
		}, true

	case SeedingGuest:
		if !c.IsAnonymous && c.UserID != st.UserID && c.UserID != st.PendingAuthID {
			return UserAuthenticated{UserID: c.UserID, GuestID: st.UserID}, true
		}

	case LocalOnly:
		switch {
		case st.IsGuest && !c.IsAnonymous && c.UserID != st.UserID:
			return UserAuthenticated{UserID: c.UserID, GuestID: st.UserID}, true
		case !st.IsGuest && c.IsAnonymous:
			return UserSignedOut{}, true
		case c.UserID == st.UserID && CanEnableSync(st, c.IsPremium):
			return SubscriptionActivated{IsPremium: true}, true
		}

	case Synced:
		switch {
		case c.IsAnonymous:
			return UserSignedOut{}, true
		case c.UserID == st.UserID && !c.IsPremium:
			return SubscriptionExpired{HasUploadQueue: c.HasUploadQueue, At: c.ObservedAt}, true
		}
	}

	return nil, false
}

package lifecycle

// Transition computes the next state. It is pure and total: events a state
// does not handle return s unchanged. A nil state is treated as
// Uninitialized.
func Transition(s State, e Event) State {
	if s == nil {
		s = Uninitialized{}
	}
	if e == nil {
		return s
	}

	switch st := s.(type) {
	case Uninitialized:
		if _, ok := e.(AppStart); ok {
			return Initializing{}
		}

	case Initializing:
		if ev, ok := e.(InitComplete); ok {
			return initialize(ev)
		}

	case SeedingGuest:
		switch ev := e.(type) {
		case UserAuthenticated:
			// Seeding is never interrupted; the authentication is replayed
			// once SeedingComplete arrives.
			if ev.UserID == "" || ev.UserID == st.UserID {
				return st
			}
			st.PendingAuthID = ev.UserID
			return st
		case SeedingComplete:
			if st.PendingAuthID != "" {
				return MigratingGuestToAuth{GuestID: st.UserID, AuthID: st.PendingAuthID}
			}
			return LocalOnly{UserID: st.UserID, IsGuest: true}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case LocalOnly:
		switch ev := e.(type) {
		case UserAuthenticated:
			if !st.IsGuest || ev.UserID == "" || ev.UserID == st.UserID {
				return st
			}
			guest := ev.GuestID
			if guest == "" {
				guest = st.UserID
			}
			return MigratingGuestToAuth{GuestID: guest, AuthID: ev.UserID}
		case SubscriptionActivated:
			if CanEnableSync(st, ev.IsPremium) {
				return SwitchingToSync{UserID: st.UserID}
			}
		case UserSignedOut:
			return SigningOut{UserID: st.UserID}
		}

	case MigratingGuestToAuth:
		switch ev := e.(type) {
		case MigrationComplete:
			if CanEnableSync(st, ev.IsPremium) {
				return SwitchingToSync{UserID: st.AuthID}
			}
			return LocalOnly{UserID: st.AuthID, IsGuest: false}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case SwitchingToSync:
		switch ev := e.(type) {
		case SchemaSwitchComplete:
			return Synced{UserID: st.UserID}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case Synced:
		switch ev := e.(type) {
		case SubscriptionExpired:
			if MustDrainQueue(st, ev.HasUploadQueue) {
				return DrainingUploadQueue{UserID: st.UserID, StartedAt: ev.At.UTC()}
			}
			return SwitchingToLocal{UserID: st.UserID}
		case UserSignedOut:
			return SigningOut{UserID: st.UserID}
		}

	case DrainingUploadQueue:
		switch ev := e.(type) {
		case QueueDrained, QueueDrainTimeout:
			return SwitchingToLocal{UserID: st.UserID}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case SwitchingToLocal:
		switch ev := e.(type) {
		case SchemaSwitchComplete:
			return LocalOnly{UserID: st.UserID, IsGuest: false}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case SigningOut:
		switch ev := e.(type) {
		case SignOutComplete:
			// A full re-initialization picks up the new anonymous identity.
			return Uninitialized{}
		case Failure:
			return NewError(ev.Reason, st)
		}

	case Error:
		switch e.(type) {
		case Retry:
			if st.Previous == nil {
				return Uninitialized{}
			}
			return st.Previous
		case UserSignedOut:
			if user, ok := UserOf(st.Previous); ok {
				return SigningOut{UserID: user}
			}
		}
	}

	return s
}

func initialize(ev InitComplete) State {
	switch {
	case ev.UserID == "":
		return Initializing{}
	case ev.IsAnonymous && ev.NeedsSeed:
		return SeedingGuest{UserID: ev.UserID}
	case ev.IsAnonymous:
		return LocalOnly{UserID: ev.UserID, IsGuest: true}
	case ev.HasGuestData && ev.GuestID != "" && ev.GuestID != ev.UserID:
		return MigratingGuestToAuth{GuestID: ev.GuestID, AuthID: ev.UserID}
	case ev.IsPremium:
		return SwitchingToSync{UserID: ev.UserID}
	default:
		return LocalOnly{UserID: ev.UserID, IsGuest: false}
	}
}

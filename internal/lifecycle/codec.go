package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"
)

// stateJSON is the wire shape of a State. Kind discriminates the case; only
// the fields that case carries are set.
type stateJSON struct {
	Kind          Kind       `json:"kind"`
	UserID        string     `json:"user_id,omitempty"`
	IsGuest       bool       `json:"is_guest,omitempty"`
	PendingAuthID string     `json:"pending_auth_id,omitempty"`
	GuestID       string     `json:"guest_id,omitempty"`
	AuthID        string     `json:"auth_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Previous      *stateJSON `json:"previous,omitempty"`
}

// MarshalState encodes s as kind-tagged JSON.
func MarshalState(s State) ([]byte, error) {
	w, err := toStateJSON(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalState decodes JSON produced by MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return fromStateJSON(&w)
}

func toStateJSON(s State) (*stateJSON, error) {
	if s == nil {
		return nil, fmt.Errorf("marshal state: nil state")
	}
	w := &stateJSON{Kind: s.Kind()}
	switch st := s.(type) {
	case Uninitialized, Initializing:
	case SeedingGuest:
		w.UserID = st.UserID
		w.PendingAuthID = st.PendingAuthID
	case LocalOnly:
		w.UserID = st.UserID
		w.IsGuest = st.IsGuest
	case MigratingGuestToAuth:
		w.GuestID = st.GuestID
		w.AuthID = st.AuthID
	case SwitchingToSync:
		w.UserID = st.UserID
	case Synced:
		w.UserID = st.UserID
	case DrainingUploadQueue:
		w.UserID = st.UserID
		started := st.StartedAt.UTC()
		w.StartedAt = &started
	case SwitchingToLocal:
		w.UserID = st.UserID
	case SigningOut:
		w.UserID = st.UserID
	case Error:
		w.Reason = st.Reason
		if st.Previous != nil {
			prev, err := toStateJSON(st.Previous)
			if err != nil {
				return nil, err
			}
			w.Previous = prev
		}
	default:
		return nil, fmt.Errorf("marshal state: unknown state %T", s)
	}
	return w, nil
}

func fromStateJSON(w *stateJSON) (State, error) {
	switch w.Kind {
	case KindUninitialized:
		return Uninitialized{}, nil
	case KindInitializing:
		return Initializing{}, nil
	case KindSeedingGuest:
		return SeedingGuest{UserID: w.UserID, PendingAuthID: w.PendingAuthID}, nil
	case KindLocalOnly:
		return LocalOnly{UserID: w.UserID, IsGuest: w.IsGuest}, nil
	case KindMigratingGuestToAuth:
		return MigratingGuestToAuth{GuestID: w.GuestID, AuthID: w.AuthID}, nil
	case KindSwitchingToSync:
		return SwitchingToSync{UserID: w.UserID}, nil
	case KindSynced:
		return Synced{UserID: w.UserID}, nil
	case KindDrainingUploadQueue:
		var started time.Time
		if w.StartedAt != nil {
			started = w.StartedAt.UTC()
		}
		return DrainingUploadQueue{UserID: w.UserID, StartedAt: started}, nil
	case KindSwitchingToLocal:
		return SwitchingToLocal{UserID: w.UserID}, nil
	case KindSigningOut:
		return SigningOut{UserID: w.UserID}, nil
	case KindError:
		var prev State = Uninitialized{}
		if w.Previous != nil {
			p, err := fromStateJSON(w.Previous)
			if err != nil {
				return nil, err
			}
			prev = p
		}
		return NewError(w.Reason, prev), nil
	default:
		return nil, fmt.Errorf("unmarshal state: unknown kind %q", w.Kind)
	}
}

// eventJSON is the wire shape of an Event, used by scenario files and logs.
type eventJSON struct {
	Type           EventType  `json:"type"`
	UserID         string     `json:"user_id,omitempty"`
	GuestID        string     `json:"guest_id,omitempty"`
	IsAnonymous    bool       `json:"is_anonymous,omitempty"`
	IsPremium      bool       `json:"is_premium,omitempty"`
	HasGuestData   bool       `json:"has_guest_data,omitempty"`
	NeedsSeed      bool       `json:"needs_seed,omitempty"`
	HasUploadQueue bool       `json:"has_upload_queue,omitempty"`
	At             *time.Time `json:"at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// MarshalEvent encodes e as type-tagged JSON.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("marshal event: nil event")
	}
	w := eventJSON{Type: e.Type()}
	switch ev := e.(type) {
	case InitComplete:
		w.UserID = ev.UserID
		w.IsAnonymous = ev.IsAnonymous
		w.IsPremium = ev.IsPremium
		w.GuestID = ev.GuestID
		w.HasGuestData = ev.HasGuestData
		w.NeedsSeed = ev.NeedsSeed
		w.HasUploadQueue = ev.HasUploadQueue
	case UserAuthenticated:
		w.UserID = ev.UserID
		w.GuestID = ev.GuestID
	case MigrationComplete:
		w.IsPremium = ev.IsPremium
	case SubscriptionActivated:
		w.IsPremium = ev.IsPremium
	case SubscriptionExpired:
		w.HasUploadQueue = ev.HasUploadQueue
		if !ev.At.IsZero() {
			at := ev.At.UTC()
			w.At = &at
		}
	case SignOutComplete:
		w.GuestID = ev.GuestID
	case Failure:
		w.Reason = ev.Reason
	}
	return json.Marshal(w)
}

// UnmarshalEvent decodes JSON produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	switch w.Type {
	case EventAppStart:
		return AppStart{}, nil
	case EventInitComplete:
		return InitComplete{
			UserID:         w.UserID,
			IsAnonymous:    w.IsAnonymous,
			IsPremium:      w.IsPremium,
			GuestID:        w.GuestID,
			HasGuestData:   w.HasGuestData,
			NeedsSeed:      w.NeedsSeed,
			HasUploadQueue: w.HasUploadQueue,
		}, nil
	case EventSeedingComplete:
		return SeedingComplete{}, nil
	case EventUserAuthenticated:
		return UserAuthenticated{UserID: w.UserID, GuestID: w.GuestID}, nil
	case EventMigrationComplete:
		return MigrationComplete{IsPremium: w.IsPremium}, nil
	case EventSubscriptionActivated:
		return SubscriptionActivated{IsPremium: w.IsPremium}, nil
	case EventSubscriptionExpired:
		ev := SubscriptionExpired{HasUploadQueue: w.HasUploadQueue}
		if w.At != nil {
			ev.At = w.At.UTC()
		}
		return ev, nil
	case EventQueueDrained:
		return QueueDrained{}, nil
	case EventQueueDrainTimeout:
		return QueueDrainTimeout{}, nil
	case EventSchemaSwitchComplete:
		return SchemaSwitchComplete{}, nil
	case EventUserSignedOut:
		return UserSignedOut{}, nil
	case EventSignOutComplete:
		return SignOutComplete{GuestID: w.GuestID}, nil
	case EventFailure:
		return Failure{Reason: w.Reason}, nil
	case EventRetry:
		return Retry{}, nil
	default:
		return nil, fmt.Errorf("unmarshal event: unknown type %q", w.Type)
	}
}

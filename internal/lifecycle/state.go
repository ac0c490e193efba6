package lifecycle

import (
	"fmt"
	"time"
)

// Kind names a state case. Kinds are stable: they are persisted by the
// crash-recovery store.
type Kind string

const (
	KindUninitialized        Kind = "uninitialized"
	KindInitializing         Kind = "initializing"
	KindSeedingGuest         Kind = "seeding_guest"
	KindLocalOnly            Kind = "local_only"
	KindMigratingGuestToAuth Kind = "migrating_guest_to_auth"
	KindSwitchingToSync      Kind = "switching_to_sync"
	KindSynced               Kind = "synced"
	KindDrainingUploadQueue  Kind = "draining_upload_queue"
	KindSwitchingToLocal     Kind = "switching_to_local"
	KindSigningOut           Kind = "signing_out"
	KindError                Kind = "error"
)

// State is a sealed interface: only the types in this file implement it.
type State interface {
	fmt.Stringer
	Kind() Kind
	state()
}

// Uninitialized is the state before any external signal has been observed.
type Uninitialized struct{}

// Initializing waits for the first identity and entitlement snapshot.
type Initializing struct{}

// SeedingGuest populates default data for a brand-new anonymous identity.
// PendingAuthID records an authentication that arrived mid-seed; it is acted
// on only once seeding completes.
type SeedingGuest struct {
	UserID        string
	PendingAuthID string
}

// LocalOnly is the offline steady state.
type LocalOnly struct {
	UserID  string
	IsGuest bool
}

// MigratingGuestToAuth transfers row ownership from GuestID to AuthID.
type MigratingGuestToAuth struct {
	GuestID string
	AuthID  string
}

// SwitchingToSync installs the sync-capable schema and connects.
type SwitchingToSync struct {
	UserID string
}

// Synced is the connected steady state.
type Synced struct {
	UserID string
}

// DrainingUploadQueue waits for queued changes to reach the backend before
// sync is disabled. StartedAt is always UTC.
type DrainingUploadQueue struct {
	UserID    string
	StartedAt time.Time
}

// SwitchingToLocal disconnects and restores the local-only schema.
type SwitchingToLocal struct {
	UserID string
}

// SigningOut tears down the identity session and local synced data.
type SigningOut struct {
	UserID string
}

// Error records a failed side effect. Previous is never an Error.
type Error struct {
	Reason   string
	Previous State
}

func (Uninitialized) state()        {}
func (Initializing) state()         {}
func (SeedingGuest) state()         {}
func (LocalOnly) state()            {}
func (MigratingGuestToAuth) state() {}
func (SwitchingToSync) state()      {}
func (Synced) state()               {}
func (DrainingUploadQueue) state()  {}
func (SwitchingToLocal) state()     {}
func (SigningOut) state()           {}
func (Error) state()                {}

func (Uninitialized) Kind() Kind        { return KindUninitialized }
func (Initializing) Kind() Kind         { return KindInitializing }
func (SeedingGuest) Kind() Kind         { return KindSeedingGuest }
func (LocalOnly) Kind() Kind            { return KindLocalOnly }
func (MigratingGuestToAuth) Kind() Kind { return KindMigratingGuestToAuth }
func (SwitchingToSync) Kind() Kind      { return KindSwitchingToSync }
func (Synced) Kind() Kind               { return KindSynced }
func (DrainingUploadQueue) Kind() Kind  { return KindDrainingUploadQueue }
func (SwitchingToLocal) Kind() Kind     { return KindSwitchingToLocal }
func (SigningOut) Kind() Kind           { return KindSigningOut }
func (Error) Kind() Kind                { return KindError }

func (Uninitialized) String() string { return string(KindUninitialized) }
func (Initializing) String() string  { return string(KindInitializing) }

func (s SeedingGuest) String() string {
	if s.PendingAuthID != "" {
		return fmt.Sprintf("%s(user=%s pending_auth=%s)", KindSeedingGuest, s.UserID, s.PendingAuthID)
	}
	return fmt.Sprintf("%s(user=%s)", KindSeedingGuest, s.UserID)
}

func (s LocalOnly) String() string {
	return fmt.Sprintf("%s(user=%s guest=%t)", KindLocalOnly, s.UserID, s.IsGuest)
}

func (s MigratingGuestToAuth) String() string {
	return fmt.Sprintf("%s(guest=%s auth=%s)", KindMigratingGuestToAuth, s.GuestID, s.AuthID)
}

func (s SwitchingToSync) String() string {
	return fmt.Sprintf("%s(user=%s)", KindSwitchingToSync, s.UserID)
}

func (s Synced) String() string {
	return fmt.Sprintf("%s(user=%s)", KindSynced, s.UserID)
}

func (s DrainingUploadQueue) String() string {
	return fmt.Sprintf("%s(user=%s started=%s)", KindDrainingUploadQueue, s.UserID, s.StartedAt.Format(time.RFC3339))
}

func (s SwitchingToLocal) String() string {
	return fmt.Sprintf("%s(user=%s)", KindSwitchingToLocal, s.UserID)
}

func (s SigningOut) String() string {
	return fmt.Sprintf("%s(user=%s)", KindSigningOut, s.UserID)
}

func (s Error) String() string {
	prev := "none"
	if s.Previous != nil {
		prev = s.Previous.String()
	}
	return fmt.Sprintf("%s(reason=%q previous=%s)", KindError, s.Reason, prev)
}

// IsActing reports whether s owns a side effect.
func IsActing(s State) bool {
	switch s.(type) {
	case SeedingGuest, MigratingGuestToAuth, SwitchingToSync,
		DrainingUploadQueue, SwitchingToLocal, SigningOut:
		return true
	default:
		return false
	}
}

// UserOf returns the identity a state acts for. For MigratingGuestToAuth
// that is the authenticated identity; for Error it is the previous state's.
func UserOf(s State) (string, bool) {
	switch st := s.(type) {
	case SeedingGuest:
		return st.UserID, st.UserID != ""
	case LocalOnly:
		return st.UserID, st.UserID != ""
	case MigratingGuestToAuth:
		return st.AuthID, st.AuthID != ""
	case SwitchingToSync:
		return st.UserID, st.UserID != ""
	case Synced:
		return st.UserID, st.UserID != ""
	case DrainingUploadQueue:
		return st.UserID, st.UserID != ""
	case SwitchingToLocal:
		return st.UserID, st.UserID != ""
	case SigningOut:
		return st.UserID, st.UserID != ""
	case Error:
		if st.Previous == nil {
			return "", false
		}
		return UserOf(st.Previous)
	default:
		return "", false
	}
}

// NewError builds an Error state, unwrapping prev if it is already an Error
// so the invariant on Previous holds.
func NewError(reason string, prev State) Error {
	if e, ok := prev.(Error); ok {
		prev = e.Previous
	}
	if prev == nil {
		prev = Uninitialized{}
	}
	return Error{Reason: reason, Previous: prev}
}

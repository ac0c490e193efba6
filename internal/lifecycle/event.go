package lifecycle

import "time"

// EventType names an event case.
type EventType string

const (
	EventAppStart              EventType = "app_start"
	EventInitComplete          EventType = "init_complete"
	EventSeedingComplete       EventType = "seeding_complete"
	EventUserAuthenticated     EventType = "user_authenticated"
	EventMigrationComplete     EventType = "migration_complete"
	EventSubscriptionActivated EventType = "subscription_activated"
	EventSubscriptionExpired   EventType = "subscription_expired"
	EventQueueDrained          EventType = "queue_drained"
	EventQueueDrainTimeout     EventType = "queue_drain_timeout"
	EventSchemaSwitchComplete  EventType = "schema_switch_complete"
	EventUserSignedOut         EventType = "user_signed_out"
	EventSignOutComplete       EventType = "sign_out_complete"
	EventFailure               EventType = "error"
	EventRetry                 EventType = "retry"
)

// Event is a sealed interface over the external occurrences the reducer
// understands.
type Event interface {
	Type() EventType
	event()
}

// AppStart is raised once per process start.
type AppStart struct{}

// InitComplete carries the facts gathered once while Initializing.
// GuestID is the device's anonymous identity; HasGuestData reports whether
// it still owns rows that must move to an authenticated UserID.
type InitComplete struct {
	UserID         string
	IsAnonymous    bool
	IsPremium      bool
	GuestID        string
	HasGuestData   bool
	NeedsSeed      bool
	HasUploadQueue bool
}

// SeedingComplete resolves SeedingGuest.
type SeedingComplete struct{}

// UserAuthenticated reports a new authenticated identity. GuestID is the
// anonymous identity that was active before, when known.
type UserAuthenticated struct {
	UserID  string
	GuestID string
}

// MigrationComplete resolves MigratingGuestToAuth with the verified
// entitlement of the authenticated identity.
type MigrationComplete struct {
	IsPremium bool
}

// SubscriptionActivated asks to enable sync. It is honored only when the
// CanEnableSync guard passes.
type SubscriptionActivated struct {
	IsPremium bool
}

// SubscriptionExpired asks to disable sync. At is the observation time and
// becomes DrainingUploadQueue.StartedAt.
type SubscriptionExpired struct {
	HasUploadQueue bool
	At             time.Time
}

// QueueDrained resolves DrainingUploadQueue once the queue is empty.
type QueueDrained struct{}

// QueueDrainTimeout resolves DrainingUploadQueue when the drain budget ran out.
// It is an alternate success path, not a failure.
type QueueDrainTimeout struct{}

// SchemaSwitchComplete resolves SwitchingToSync and SwitchingToLocal.
type SchemaSwitchComplete struct{}

// UserSignedOut is raised by the sign-out action of the UI.
type UserSignedOut struct{}

// SignOutComplete carries the fresh anonymous identity to continue as.
type SignOutComplete struct {
	GuestID string
}

// Failure is the generic error event produced when a side effect fails.
type Failure struct {
	Reason string
}

// Retry replays the state that preceded an Error.
type Retry struct{}

func (AppStart) event()              {}
func (InitComplete) event()          {}
func (SeedingComplete) event()       {}
func (UserAuthenticated) event()     {}
func (MigrationComplete) event()     {}
func (SubscriptionActivated) event() {}
func (SubscriptionExpired) event()   {}
func (QueueDrained) event()          {}
func (QueueDrainTimeout) event()     {}
func (SchemaSwitchComplete) event()  {}
func (UserSignedOut) event()         {}
func (SignOutComplete) event()       {}
func (Failure) event()               {}
func (Retry) event()                 {}

func (AppStart) Type() EventType              { return EventAppStart }
func (InitComplete) Type() EventType          { return EventInitComplete }
func (SeedingComplete) Type() EventType       { return EventSeedingComplete }
func (UserAuthenticated) Type() EventType     { return EventUserAuthenticated }
func (MigrationComplete) Type() EventType     { return EventMigrationComplete }
func (SubscriptionActivated) Type() EventType { return EventSubscriptionActivated }
func (SubscriptionExpired) Type() EventType   { return EventSubscriptionExpired }
func (QueueDrained) Type() EventType          { return EventQueueDrained }
func (QueueDrainTimeout) Type() EventType     { return EventQueueDrainTimeout }
func (SchemaSwitchComplete) Type() EventType  { return EventSchemaSwitchComplete }
func (UserSignedOut) Type() EventType         { return EventUserSignedOut }
func (SignOutComplete) Type() EventType       { return EventSignOutComplete }
func (Failure) Type() EventType               { return EventFailure }
func (Retry) Type() EventType                 { return EventRetry }

package lifecycle

// Mode is the coarse value the UI renders.
type Mode string

const (
	ModeInitializing  Mode = "initializing"
	ModeLocalOnly     Mode = "local-only"
	ModeSynced        Mode = "synced"
	ModeTransitioning Mode = "transitioning"
	ModeError         Mode = "error"
)

// ModeOf collapses a state into a Mode.
func ModeOf(s State) Mode {
	switch s.(type) {
	case nil, Uninitialized, Initializing:
		return ModeInitializing
	case LocalOnly:
		return ModeLocalOnly
	case Synced:
		return ModeSynced
	case Error:
		return ModeError
	default:
		return ModeTransitioning
	}
}

// IsSyncActive reports whether the backend connection is expected to be
// open. The connection stays up while the upload queue drains.
func IsSyncActive(s State) bool {
	switch s.(type) {
	case Synced, DrainingUploadQueue:
		return true
	default:
		return false
	}
}

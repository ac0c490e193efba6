package lifecycle

// CanEnableSync reports whether an enabling event may move s towards sync.
// Sync is enabled only for an entitled identity that is local-only or
// finishing a guest migration.
func CanEnableSync(s State, isPremium bool) bool {
	if !isPremium {
		return false
	}
	switch s.(type) {
	case LocalOnly, MigratingGuestToAuth:
		return true
	default:
		return false
	}
}

// MustDrainQueue reports whether disabling sync from s has to wait for the
// upload queue to drain first.
func MustDrainQueue(s State, hasUploadQueue bool) bool {
	_, synced := s.(Synced)
	return synced && hasUploadQueue
}

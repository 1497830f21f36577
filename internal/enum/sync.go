package enum

// SyncState tracks the progress of one sync attempt. Terminal states are
// SyncCursorAdvanced, SyncSoftFailed, SyncDeactivated and SyncSkipped.
type SyncState string

const (
	SyncStart             SyncState = "start"
	SyncCredentialsLoaded SyncState = "credentials_loaded"
	SyncDeltaFetched      SyncState = "delta_fetched"
	SyncNormalized        SyncState = "normalized"
	SyncPersisted         SyncState = "persisted"
	SyncCursorAdvanced    SyncState = "cursor_advanced"
	SyncSoftFailed        SyncState = "soft_failed"
	SyncDeactivated       SyncState = "deactivated"
	SyncSkipped           SyncState = "skipped"
)

func (s SyncState) String() string {
	return string(s)
}

// Terminal reports whether no further transition is possible for this attempt.
func (s SyncState) Terminal() bool {
	switch s {
	case SyncCursorAdvanced, SyncSoftFailed, SyncDeactivated, SyncSkipped:
		return true
	}
	return false
}

type SyncTrigger string

const (
	TriggerWebhook   SyncTrigger = "webhook"
	TriggerScheduler SyncTrigger = "scheduler"
	TriggerManual    SyncTrigger = "manual"
)

func (t SyncTrigger) String() string {
	return string(t)
}

package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/enum"
)

// ScanReport summarizes one scan-and-heal pass. Partial progress is the
// expected outcome; one integration's failure never halts the scan.
type ScanReport struct {
	Scanned   int
	Refreshed int
	Revoked   int
	Failed    int
}

// RefreshService walks active integrations on a schedule, refreshing
// near-expiry tokens and re-establishing push subscriptions, and sweeps
// polling providers through the sync engine.
type RefreshService interface {
	RefreshAll(ctx context.Context, providers ...enum.IntegrationProvider) *ScanReport
	PollAll(ctx context.Context) *ScanReport
}

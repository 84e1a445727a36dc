package ports

import "github.com/alejandrodnm/papertrader/internal/domain"

// SnapshotSource is what display layers read. Implementations return
// copies, never live engine state.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
	Statuses() []domain.Credential
}

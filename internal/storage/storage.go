// Package storage defines the recording sinks fed by the battle dispatcher.
package storage

import "github.com/OCAP2/arena/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Battle management
	StartBattle(b *core.Battle) error
	EndBattle(r *core.BattleResults) error

	// Round management. StartRound receives the placement snapshot (turn 0).
	StartRound(s *core.TurnSnapshot) error
	EndRound(r *core.RoundResult) error

	// Turn recording
	RecordTurn(t *core.TurnRecord) error
	RecordDeath(d *core.DeathRecord) error
	RecordBadBehavior(d *core.Diagnostic) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to a results server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

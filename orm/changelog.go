package orm

import "github.com/google/uuid"

// ChangeLogEntry is one logged field mutation: a save of an entity with a
// non-empty change set against a TypeDesc declaring log_changes logs one
// entry per tracked-changed field whose own FieldDesc also declares
// LogChanges (§4.5 step 8, §8 invariant 3).
type ChangeLogEntry struct {
	EntityName string
	Key        uuid.UUID
	Field      string
	OldValue   any
	NewValue   any
}

// ChangeLogger records field-level change history and participates in a
// Connection's transaction lifecycle: BeginBatch/CommitBatch/RollbackBatch
// bracket a nested change batch the same way the driver transaction itself
// is bracketed (§4.5's "Transactions" bullets).
type ChangeLogger interface {
	BeginBatch() error
	LogChange(entry ChangeLogEntry) error
	CommitBatch() error
	RollbackBatch() error
}

// NopChangeLogger discards every entry; the zero value is ready to use and
// is what a Connection without an attached logger behaves like.
type NopChangeLogger struct{}

func (NopChangeLogger) BeginBatch() error             { return nil }
func (NopChangeLogger) LogChange(ChangeLogEntry) error { return nil }
func (NopChangeLogger) CommitBatch() error            { return nil }
func (NopChangeLogger) RollbackBatch() error          { return nil }

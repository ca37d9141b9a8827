package entity

import (
	"time"

	"github.com/google/uuid"
)

// Database is the narrow capability a persisted entity needs from its
// attached connection: enough to load a delayed field on demand (§4.5).
// The concrete type lives in package orm; this interface breaks the import
// cycle that would otherwise result (orm depends on entity for Data).
type Database interface {
	LoadDelayedField(e Data, fieldName string) (any, error)
}

// Data is the capability set every persisted table/view instance must
// implement (§3's "data-object capability set"): identity accessors, the
// tracked-mutation capabilities of Buffer, and delayed-field bookkeeping.
type Data interface {
	Key() uuid.UUID
	SetKey(uuid.UUID)
	Created() time.Time
	SetCreated(time.Time)
	Changed() time.Time
	SetChanged(time.Time)
	Archived() bool
	SetArchived(bool)

	AttachedDatabase() Database
	Attach(Database)

	Dirty() bool
	Commit()
	Rollback()
	SetTracked()
	SetUntracked()
	ChangedProperties() []string
	OldValue(name string) (any, bool)

	IsDelayedLoaded(fieldName string) bool
	MarkDelayedLoaded(fieldName string)
	ResetDelayedLoaded()

	// FieldValue and SetField give the connection runtime generic,
	// reflection-free access to any field registered with the instance's
	// Buffer (§4.5's "field accessor"): FieldValue reads current values for
	// parameter binding, SetField assigns loaded column values without
	// marking the instance dirty.
	FieldValue(name string) (any, bool)
	SetField(name string, v any) bool

	// BeforeSave and AfterLoad are lifecycle hooks invoked by the
	// connection runtime around Save (step 1 of §4.5) and row
	// materialization respectively. A no-op default is provided by
	// BaseData; entities override by re-declaring the method.
	BeforeSave() error
	AfterLoad()
}

// BaseData is embedded by every generated/declared table or view type. It
// supplies the Buffer-backed tracked mutation, identity fields and delayed
// field bookkeeping so concrete entities only need field-specific typed
// getters/setters that delegate into it.
type BaseData struct {
	Buffer

	key      uuid.UUID
	created  time.Time
	changed  time.Time
	archived bool

	db Database

	delayedLoaded map[string]bool
}

// NewBaseData returns a BaseData with an empty key (not yet persisted) and
// a fresh change-tracking buffer.
func NewBaseData() BaseData {
	return BaseData{
		Buffer:        *NewBuffer(),
		delayedLoaded: make(map[string]bool),
	}
}

func (d *BaseData) Key() uuid.UUID { return d.key }

func (d *BaseData) SetKey(v uuid.UUID) {
	d.Buffer.Set("Key", d.key, v, func(nv any) { d.key = nv.(uuid.UUID) })
}

func (d *BaseData) Created() time.Time { return d.created }

func (d *BaseData) SetCreated(v time.Time) {
	d.Buffer.Set("Created", d.created, v, func(nv any) { d.created = nv.(time.Time) })
}

func (d *BaseData) Changed() time.Time { return d.changed }

func (d *BaseData) SetChanged(v time.Time) {
	d.Buffer.Set("Changed", d.changed, v, func(nv any) { d.changed = nv.(time.Time) })
}

func (d *BaseData) Archived() bool { return d.archived }

func (d *BaseData) SetArchived(v bool) {
	d.Buffer.Set("Archived", d.archived, v, func(nv any) { d.archived = nv.(bool) })
}

// Rollback restores every buffered pre-change value, Key/Created/Changed/
// Archived included, then clears the buffer and unsets dirty.
func (d *BaseData) Rollback() {
	d.Buffer.Register("Key", func(v any) { d.key = v.(uuid.UUID) })
	d.Buffer.Register("Created", func(v any) { d.created = v.(time.Time) })
	d.Buffer.Register("Changed", func(v any) { d.changed = v.(time.Time) })
	d.Buffer.Register("Archived", func(v any) { d.archived = v.(bool) })
	d.Buffer.Rollback()
}

// FieldValue resolves Key/Created/Changed/Archived directly (they live on
// BaseData itself, not in a concrete entity's registered getters) and
// falls back to the embedded Buffer for every other declared field.
func (d *BaseData) FieldValue(name string) (any, bool) {
	switch name {
	case "Key":
		return d.key, true
	case "Created":
		return d.created, true
	case "Changed":
		return d.changed, true
	case "Archived":
		return d.archived, true
	default:
		return d.Buffer.FieldValue(name)
	}
}

// SetField assigns Key/Created/Changed/Archived directly, bypassing change
// tracking (row materialization must not mark a freshly loaded entity
// dirty), and falls back to the embedded Buffer's registered setters for
// every other declared field.
func (d *BaseData) SetField(name string, v any) bool {
	switch name {
	case "Key":
		d.key = v.(uuid.UUID)
		return true
	case "Created":
		d.created = v.(time.Time)
		return true
	case "Changed":
		d.changed = v.(time.Time)
		return true
	case "Archived":
		d.archived = v.(bool)
		return true
	default:
		return d.Buffer.SetField(name, v)
	}
}

func (d *BaseData) AttachedDatabase() Database { return d.db }

func (d *BaseData) Attach(db Database) { d.db = db }

// IsDelayedLoaded reports whether fieldName's value has already been fetched
// on this instance.
func (d *BaseData) IsDelayedLoaded(fieldName string) bool {
	if d.delayedLoaded == nil {
		return false
	}
	return d.delayedLoaded[fieldName]
}

// MarkDelayedLoaded records that fieldName has been fetched (or explicitly
// set), so later reads don't issue another SELECT.
func (d *BaseData) MarkDelayedLoaded(fieldName string) {
	if d.delayedLoaded == nil {
		d.delayedLoaded = make(map[string]bool)
	}
	d.delayedLoaded[fieldName] = true
}

// ResetDelayedLoaded clears every delayed-field loaded flag, forcing the
// next read of each to re-fetch.
func (d *BaseData) ResetDelayedLoaded() {
	d.delayedLoaded = make(map[string]bool)
}

// BeforeSave is the default no-op hook; entities with real pre-save
// behavior shadow this method.
func (d *BaseData) BeforeSave() error { return nil }

// AfterLoad is the default no-op hook; entities with real post-load
// behavior shadow this method.
func (d *BaseData) AfterLoad() {}

// IsEmptyKey reports whether v is the zero-value GUID, i.e. "not yet
// persisted" per §3.
func IsEmptyKey(v uuid.UUID) bool { return v == uuid.Nil }

// Package entity supplies the capability composition described in the
// design notes for inheritance replacement: rather than a Base -> BaseBuffered
// -> BaseData -> BaseTable/BaseView class hierarchy, persisted entities
// embed the capability structs declared here (Buffer for tracked mutation;
// BaseData, which adds the persisted-identity fields and delayed-field
// bookkeeping on top of Buffer) and compose whichever subset applies.
package entity

import (
	"sync"
)

// Setter is a field mutator registered with a Buffer so that Rollback can
// replay a pre-change value through the same exported setter a caller would
// normally use, keeping property-changed notifications consistent between
// the forward and rollback paths.
type Setter func(value any)

// Buffer is the per-instance change-tracking primitive of §4.8. It records,
// for each property first mutated since the last Commit, the pre-change
// value in insertion order, and can replay those values on Rollback.
type Buffer struct {
	mu          sync.Mutex
	order       []string
	old         map[string]any
	setters     map[string]Setter
	getters     map[string]func() any
	dirty       bool
	tracked     bool
	rollingBack bool
	onChanged   func(name string)
}

// NewBuffer returns a Buffer in tracked mode (the default for a freshly
// constructed entity).
func NewBuffer() *Buffer {
	return &Buffer{
		old:     make(map[string]any),
		setters: make(map[string]Setter),
		getters: make(map[string]func() any),
		tracked: true,
	}
}

// OnChanged installs a property-changed notification callback. Optional.
func (b *Buffer) OnChanged(fn func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChanged = fn
}

// normalizeNull maps the string "null" to empty string, the one coercion
// §3 calls out explicitly so that setting a field to the literal string
// "null" is treated identically to clearing it.
func normalizeNull(v any) any {
	if s, ok := v.(string); ok && s == "null" {
		return ""
	}
	return v
}

// Register associates a field name with its exported setter, so that
// Rollback can invoke it later. Entities call this once per trackable field,
// typically from their constructor.
func (b *Buffer) Register(name string, setter Setter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setters[name] = setter
}

// RegisterGetter associates a field name with a closure returning its
// current value, so the connection runtime can read any declared field by
// name (for SELECT parameter binding and INSERT/UPDATE value composition)
// without reflection (§9's hand-written-table design note).
func (b *Buffer) RegisterGetter(name string, get func() any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getters[name] = get
}

// FieldValue returns name's current value via its registered getter.
func (b *Buffer) FieldValue(name string) (any, bool) {
	b.mu.Lock()
	get, ok := b.getters[name]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	return get(), true
}

// SetField assigns name's value via its registered setter with change
// tracking suppressed, the row-materialization path of §4.5: loading a
// persisted row back into an entity must not mark it dirty.
func (b *Buffer) SetField(name string, v any) bool {
	b.mu.Lock()
	setter, ok := b.setters[name]
	b.mu.Unlock()
	if !ok {
		return false
	}

	b.mu.Lock()
	wasTracked := b.tracked
	b.tracked = false
	b.mu.Unlock()

	setter(v)

	b.mu.Lock()
	b.tracked = wasTracked
	b.mu.Unlock()
	return true
}

// Set is the mutation primitive: normalize, no-op on equality, record the
// pre-change value on first touch since the last Commit, assign, and
// notify. Returns false when the assignment was a no-op (old == new).
func (b *Buffer) Set(name string, old, new any, assign func(any)) bool {
	old = normalizeNull(old)
	new = normalizeNull(new)
	if old == new {
		return false
	}

	b.mu.Lock()
	if b.tracked && !b.rollingBack {
		if _, seen := b.old[name]; !seen {
			b.old[name] = old
			b.order = append(b.order, name)
		}
		b.dirty = true
	}
	notify := b.onChanged
	b.mu.Unlock()

	assign(new)

	if notify != nil {
		notify(name)
	}
	return true
}

// Dirty reports whether any tracked property has an uncommitted change.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// SetTracked switches the buffer into tracked mode: subsequent Set calls
// record changes and raise dirty.
func (b *Buffer) SetTracked() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked = true
}

// SetUntracked switches the buffer into unbuffered mode: subsequent Set
// calls still assign and notify but never record or raise dirty.
func (b *Buffer) SetUntracked() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked = false
}

// ChangedProperties returns the names of properties touched since the last
// Commit, in the order they were first touched.
func (b *Buffer) ChangedProperties() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// OldValue returns the recorded pre-change value for name and whether it was
// present.
func (b *Buffer) OldValue(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.old[name]
	return v, ok
}

// Commit clears the tracked-change map and dirty flag, the normal outcome of
// a successful save.
func (b *Buffer) Commit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.old = make(map[string]any)
	b.dirty = false
}

// Rollback replays every buffered old value through its registered setter
// (under rollback suppression, so the inverse writes are not themselves
// tracked), then clears the buffer and unsets dirty. Replay happens in
// reverse touch-order so fields restored later don't observe a partially
// rolled-back sibling.
func (b *Buffer) Rollback() {
	b.mu.Lock()
	order := make([]string, len(b.order))
	copy(order, b.order)
	old := make(map[string]any, len(b.old))
	for k, v := range b.old {
		old[k] = v
	}
	b.rollingBack = true
	b.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		b.mu.Lock()
		setter, ok := b.setters[name]
		b.mu.Unlock()
		if ok {
			setter(old[name])
		}
	}

	b.mu.Lock()
	b.rollingBack = false
	b.order = nil
	b.old = make(map[string]any)
	b.dirty = false
	b.mu.Unlock()
}

package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDatabase struct {
	field string
	value any
	err   error
}

func (s *stubDatabase) LoadDelayedField(e Data, fieldName string) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.field = fieldName
	return s.value, nil
}

func TestIsEmptyKey(t *testing.T) {
	assert.True(t, IsEmptyKey(uuid.Nil))
	assert.False(t, IsEmptyKey(uuid.New()))
}

func TestBaseDataIdentityFieldsRoundTrip(t *testing.T) {
	d := NewBaseData()

	key := uuid.New()
	d.SetKey(key)
	assert.Equal(t, key, d.Key())

	now := time.Now()
	d.SetCreated(now)
	assert.Equal(t, now, d.Created())

	d.SetChanged(now)
	assert.Equal(t, now, d.Changed())

	d.SetArchived(true)
	assert.True(t, d.Archived())
}

func TestBaseDataSetKeyIsTrackedAsADirtyingChange(t *testing.T) {
	d := NewBaseData()
	assert.False(t, d.Dirty())
	d.SetKey(uuid.New())
	assert.True(t, d.Dirty())
	assert.Equal(t, []string{"Key"}, d.ChangedProperties())
}

func TestBaseDataFieldValueResolvesIdentityFieldsDirectly(t *testing.T) {
	d := NewBaseData()
	key := uuid.New()
	d.SetKey(key)

	v, ok := d.FieldValue("Key")
	require.True(t, ok)
	assert.Equal(t, key, v)

	v, ok = d.FieldValue("Archived")
	require.True(t, ok)
	assert.Equal(t, false, v)
}

func TestBaseDataSetFieldOnIdentityFieldsBypassesTracking(t *testing.T) {
	d := NewBaseData()
	ok := d.SetField("Archived", true)
	assert.True(t, ok)
	assert.True(t, d.Archived())
	assert.False(t, d.Dirty(), "row materialization must not mark the instance dirty")
}

func TestBaseDataFieldValueFallsBackToBufferForDeclaredFields(t *testing.T) {
	d := NewBaseData()
	d.RegisterGetter("Balance", func() any { return 42 })

	v, ok := d.FieldValue("Balance")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestBaseDataSetFieldFallsBackToBufferForDeclaredFields(t *testing.T) {
	d := NewBaseData()
	var balance int
	d.Register("Balance", func(v any) { balance = v.(int) })

	ok := d.SetField("Balance", 7)
	assert.True(t, ok)
	assert.Equal(t, 7, balance)
	assert.False(t, d.Dirty())
}

func TestBaseDataAttachRoundTrips(t *testing.T) {
	d := NewBaseData()
	assert.Nil(t, d.AttachedDatabase())

	db := &stubDatabase{}
	d.Attach(db)
	assert.Same(t, db, d.AttachedDatabase())
}

func TestBaseDataDelayedLoadedBookkeeping(t *testing.T) {
	d := NewBaseData()
	assert.False(t, d.IsDelayedLoaded("Notes"))

	d.MarkDelayedLoaded("Notes")
	assert.True(t, d.IsDelayedLoaded("Notes"))

	d.ResetDelayedLoaded()
	assert.False(t, d.IsDelayedLoaded("Notes"))
}

func TestBaseDataDefaultHooksAreNoOps(t *testing.T) {
	d := NewBaseData()
	assert.NoError(t, d.BeforeSave())
	assert.NotPanics(t, func() { d.AfterLoad() })
}

func TestBaseDataRollbackRestoresIdentityFields(t *testing.T) {
	d := NewBaseData()
	original := d.Created()
	d.SetCreated(time.Now())
	require.True(t, d.Dirty())

	d.Rollback()
	assert.Equal(t, original, d.Created())
	assert.False(t, d.Dirty())
}

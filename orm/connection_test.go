package orm

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/event"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetEntity struct {
	entity.BaseData
	name    string
	balance int64
}

func newWidgetEntity() entity.Data {
	w := &widgetEntity{BaseData: entity.NewBaseData()}
	w.Register("Name", func(v any) { w.name = v.(string) })
	w.RegisterGetter("Name", func() any { return w.name })
	w.Register("Balance", func(v any) { w.balance = v.(int64) })
	w.RegisterGetter("Balance", func() any { return w.balance })
	return w
}

func (w *widgetEntity) Name() string    { return w.name }
func (w *widgetEntity) SetName(v string) { w.Buffer.Set("Name", w.name, v, func(nv any) { w.name = nv.(string) }) }
func (w *widgetEntity) Balance() int64  { return w.balance }
func (w *widgetEntity) SetBalance(v int64) {
	w.Buffer.Set("Balance", w.balance, v, func(nv any) { w.balance = nv.(int64) })
}

func widgetDesc(t *testing.T) *registry.TypeDesc {
	t.Helper()
	decl := registry.Declaration{
		Kind:    registry.Table,
		Name:    "widgets",
		ID:      1,
		Version: 1,
		Fields: []registry.FieldDesc{
			registry.Field("Key", registry.HostGUID, registry.RolePrimaryKey),
			registry.Field("Created", registry.HostDateTime, registry.RoleTimestampCreated),
			registry.Field("Changed", registry.HostDateTime, registry.RoleTimestampChanged),
			registry.Field("Name", registry.HostString, registry.RoleNone),
			registry.Field("Balance", registry.HostInt64, registry.RoleNone),
		},
	}
	desc, err := registry.Register(reflect.TypeOf((*widgetEntity)(nil)), decl, (*widgetEntity)(nil))
	require.NoError(t, err)
	return desc
}

func postgres() dialect.Translator { return dialect.For(dialect.PostgreSql) }

func TestSaveInsertsWhenKeyIsEmpty(t *testing.T) {
	widgetDesc(t)
	db, tbl := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	w := newWidgetEntity().(*widgetEntity)
	w.SetName("acme")
	w.SetBalance(10)

	require.NoError(t, conn.Save(context.Background(), w))
	assert.False(t, entity.IsEmptyKey(w.Key()), "Save must assign a fresh key on insert")
	assert.False(t, w.Dirty())

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	require.Len(t, tbl.rows, 1)
	assert.Equal(t, "acme", tbl.rows[0]["Name"])
}

func TestSaveUpdatesExistingRow(t *testing.T) {
	widgetDesc(t)
	db, tbl := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	w := newWidgetEntity().(*widgetEntity)
	w.SetName("acme")
	require.NoError(t, conn.Save(context.Background(), w))

	w.SetName("acme2")
	require.NoError(t, conn.Save(context.Background(), w))

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	require.Len(t, tbl.rows, 1, "an update must not add a second row")
	assert.Equal(t, "acme2", tbl.rows[0]["Name"])
}

func TestSaveWithFirstWinsRejectsStaleWrite(t *testing.T) {
	widgetDesc(t)
	db, tbl := newMemDB(t)
	conn := New(db, postgres(), WithSilent(), WithConflictMode(FirstWins))

	w := newWidgetEntity().(*widgetEntity)
	w.SetName("acme")
	require.NoError(t, conn.Save(context.Background(), w))

	// Simulate another writer having advanced Changed after this instance
	// was loaded, by mutating the stored row directly.
	tbl.mu.Lock()
	tbl.rows[0]["Changed"] = time.Now().Add(time.Hour)
	tbl.mu.Unlock()

	w.SetName("acme2")
	err := conn.Save(context.Background(), w)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.Conflict, e.Kind)
}

func TestDeleteRemovesRowAndPublishesEvent(t *testing.T) {
	widgetDesc(t)
	db, tbl := newMemDB(t)
	hub := event.New()
	var got []event.Message
	receiver := &widgetEntity{}
	event.Subscribe(hub, receiver, reflect.TypeOf((*widgetEntity)(nil)), nil, func(m event.Message) { got = append(got, m) })
	conn := New(db, postgres(), WithHub(hub))

	w := newWidgetEntity().(*widgetEntity)
	require.NoError(t, conn.Save(context.Background(), w))
	require.NoError(t, conn.Delete(context.Background(), w))

	tbl.mu.Lock()
	assert.Empty(t, tbl.rows)
	tbl.mu.Unlock()

	require.Len(t, got, 2, "insert then delete must each publish one event")
	assert.Equal(t, event.Added, got[0].Kind)
	assert.Equal(t, event.Deleted, got[1].Kind)
}

func TestLoadByKeyRoundTrips(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	w := newWidgetEntity().(*widgetEntity)
	w.SetName("acme")
	w.SetBalance(42)
	require.NoError(t, conn.Save(context.Background(), w))

	loaded, err := conn.LoadByKey(context.Background(), newWidgetEntity, w.Key())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	got := loaded.(*widgetEntity)
	assert.Equal(t, "acme", got.Name())
	assert.Equal(t, int64(42), got.Balance())
	assert.False(t, got.Dirty(), "a freshly loaded row must not be dirty")
}

func TestLoadByKeyReturnsNilWhenMissing(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	loaded, err := conn.LoadByKey(context.Background(), newWidgetEntity, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestListAppliesMaxRecordsCap(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	for i := 0; i < 5; i++ {
		w := newWidgetEntity().(*widgetEntity)
		w.SetName("widget")
		require.NoError(t, conn.Save(context.Background(), w))
	}

	out, err := conn.List(context.Background(), newWidgetEntity, nil, MaxRecords(3))
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestListAppliesClientSideFilterAfterFetch(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	for _, n := range []int64{1, 2, 3} {
		w := newWidgetEntity().(*widgetEntity)
		w.SetBalance(n)
		require.NoError(t, conn.Save(context.Background(), w))
	}

	out, err := conn.List(context.Background(), newWidgetEntity, nil, Filter(func(e entity.Data) bool {
		return e.(*widgetEntity).Balance() >= 2
	}))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestIsUniqueDetectsDuplicateField(t *testing.T) {
	desc := widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	a := newWidgetEntity().(*widgetEntity)
	a.SetName("acme")
	require.NoError(t, conn.Save(context.Background(), a))

	b := newWidgetEntity().(*widgetEntity)
	b.SetName("widget")
	require.NoError(t, conn.Save(context.Background(), b))

	unique, err := conn.IsUnique(context.Background(), desc, b.Key(), "Name", "acme")
	require.NoError(t, err)
	assert.False(t, unique, "another row already has this name")

	unique, err = conn.IsUnique(context.Background(), desc, b.Key(), "Name", "nobody-else-has-this")
	require.NoError(t, err)
	assert.True(t, unique)
}

func TestCountAndSumOverAllRows(t *testing.T) {
	desc := widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	for _, n := range []int64{1, 2, 3} {
		w := newWidgetEntity().(*widgetEntity)
		w.SetBalance(n)
		require.NoError(t, conn.Save(context.Background(), w))
	}

	n, err := conn.Count(context.Background(), desc, "Key", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sum, err := conn.Sum(context.Background(), desc, "Balance", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(6), sum)
}

func TestLoadDelayedFieldFetchesAndMarksLoaded(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	w := newWidgetEntity().(*widgetEntity)
	w.SetName("acme")
	require.NoError(t, conn.Save(context.Background(), w))

	w.ResetDelayedLoaded()
	assert.False(t, w.IsDelayedLoaded("Name"))

	v, err := conn.LoadDelayedField(w, "Name")
	require.NoError(t, err)
	assert.Equal(t, "acme", v)
	assert.True(t, w.IsDelayedLoaded("Name"))
}

func TestCommitFlushesOutboxInEnqueueOrder(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	hub := event.New()
	var order []string
	receiver := &widgetEntity{}
	event.Subscribe(hub, receiver, reflect.TypeOf((*widgetEntity)(nil)), nil, func(m event.Message) {
		order = append(order, m.Kind.String())
	})
	conn := New(db, postgres(), WithHub(hub))

	ctx := context.Background()
	require.NoError(t, conn.Begin(ctx))

	a := newWidgetEntity().(*widgetEntity)
	require.NoError(t, conn.Save(ctx, a))
	require.NoError(t, conn.Delete(ctx, a))
	assert.Empty(t, order, "events must not be delivered before commit")

	require.NoError(t, conn.Commit(ctx))
	assert.Equal(t, []string{"added", "deleted"}, order)
}

func TestRollbackDiscardsOutbox(t *testing.T) {
	widgetDesc(t)
	db, _ := newMemDB(t)
	hub := event.New()
	var count int
	receiver := &widgetEntity{}
	event.Subscribe(hub, receiver, reflect.TypeOf((*widgetEntity)(nil)), nil, func(event.Message) { count++ })
	conn := New(db, postgres(), WithHub(hub))

	ctx := context.Background()
	require.NoError(t, conn.Begin(ctx))
	w := newWidgetEntity().(*widgetEntity)
	require.NoError(t, conn.Save(ctx, w))
	require.NoError(t, conn.Rollback(ctx))

	assert.Equal(t, 0, count, "a rolled-back transaction must deliver no events")
}

func TestCloseRollsBackActiveTransaction(t *testing.T) {
	widgetDesc(t)
	db, tbl := newMemDB(t)
	conn := New(db, postgres(), WithSilent())

	ctx := context.Background()
	require.NoError(t, conn.Begin(ctx))
	w := newWidgetEntity().(*widgetEntity)
	require.NoError(t, conn.Save(ctx, w))
	require.NoError(t, conn.Close(ctx))

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	assert.Empty(t, tbl.rows, "closing with an active transaction must roll it back")
}

func TestResolveIndexedRenumbersByTextualOrder(t *testing.T) {
	sqlText, args := resolveIndexed(postgres(), `UPDATE t SET a = @v1, b = @v2 WHERE k = @v0`, map[int]any{0: "key", 1: "va", 2: "vb"})
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE k = $3`, sqlText)
	assert.Equal(t, []any{"va", "vb", "key"}, args)
}

func TestBindFlattensEnumerableArguments(t *testing.T) {
	conn := New(nil, postgres())
	sqlText, args := conn.bind(`WHERE x IN ( ? )`, []any{[]any{1, 2, 3}})
	assert.Equal(t, `WHERE x IN ( $1, $2, $3 )`, sqlText)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestFieldAccessorNameMapsRoles(t *testing.T) {
	assert.Equal(t, "Key", fieldAccessorName(&registry.FieldDesc{Role: registry.RolePrimaryKey}))
	assert.Equal(t, "Created", fieldAccessorName(&registry.FieldDesc{Role: registry.RoleTimestampCreated}))
	assert.Equal(t, "Balance", fieldAccessorName(&registry.FieldDesc{Name: "Balance", Role: registry.RoleNone}))
}

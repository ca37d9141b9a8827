package orm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/entitymapper/entitymapper/codec"
	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/event"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/google/uuid"
)

// fieldByAccessorName is the inverse of fieldAccessorName: given the name a
// value is reachable under via FieldValue/SetField, find the FieldDesc it
// corresponds to.
func fieldByAccessorName(desc *registry.TypeDesc, name string) (*registry.FieldDesc, bool) {
	switch name {
	case "Key":
		f := desc.KeyField()
		return f, f != nil
	case "Created":
		f := desc.CreatedField()
		return f, f != nil
	case "Changed":
		f := desc.ChangedField()
		return f, f != nil
	case "Archived":
		f := desc.ArchivedField()
		return f, f != nil
	default:
		return desc.Field(name)
	}
}

func (c *Connection) existsByKey(ctx context.Context, desc *registry.TypeDesc, key uuid.UUID) (bool, error) {
	tpl := c.translator.Command(dialect.SelectExistByKey)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME":    c.translator.QuoteIdentifier(desc.Name),
		"FIELDNAMEKEY": c.translator.QuoteIdentifier(desc.KeyField().Name),
	})
	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return false, err
	}
	sqlText, args := resolveIndexed(c.translator, tpl, map[int]any{0: keyDB})
	var n int64
	if err := c.queryRowTraced(ctx, sqlText, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Connection) loadStoredChanged(ctx context.Context, desc *registry.TypeDesc, key uuid.UUID) (time.Time, error) {
	tpl := c.translator.Command(dialect.LoadSingleValue)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME":    c.translator.QuoteIdentifier(desc.Name),
		"FIELDNAMEKEY": c.translator.QuoteIdentifier(desc.KeyField().Name),
		"FIELDS":       c.translator.QuoteIdentifier(desc.ChangedField().Name),
	})
	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return time.Time{}, err
	}
	sqlText, args := resolveIndexed(c.translator, tpl, map[int]any{0: keyDB})
	var raw any
	if err := c.queryRowTraced(ctx, sqlText, args...).Scan(&raw); err != nil {
		return time.Time{}, err
	}
	v, err := c.translator.FromDB(raw, registry.HostDateTime)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// Save implements §4.5's ten-step save algorithm: before_save, insert-vs-
// update determination, optimistic conflict check, partial-field
// selection, change logging and event delivery.
func (c *Connection) Save(ctx context.Context, e entity.Data, opts ...Option) error {
	const op = "orm.Connection.Save"
	o := buildOptions(opts)

	if err := e.BeforeSave(); err != nil {
		return errs.New(errs.Structural, op, err)
	}

	desc, err := descFor(e)
	if err != nil {
		return err
	}
	if desc.Kind == registry.View {
		return errs.Queryf(op, "view %q rejects Save", desc.Name)
	}
	if desc.KeyField() == nil {
		return errs.Structuralf(op, "entity %q has no primary-key field", desc.Name)
	}

	key := e.Key()
	insert := o.ForceCreate || entity.IsEmptyKey(key)
	if !insert {
		exists, err := c.existsByKey(ctx, desc, key)
		if err != nil {
			return errs.New(errs.Schema, op, err)
		}
		if !exists {
			insert = true
		}
	}

	if insert {
		return c.doInsert(ctx, desc, e, o)
	}
	return c.doUpdate(ctx, desc, e, o)
}

func (c *Connection) doUpdate(ctx context.Context, desc *registry.TypeDesc, e entity.Data, o Options) error {
	const op = "orm.Connection.Save"
	key := e.Key()

	if c.conflictMode == FirstWins && desc.ChangedField() != nil {
		stored, err := c.loadStoredChanged(ctx, desc, key)
		if err != nil {
			return errs.New(errs.Schema, op, err)
		}
		if stored.After(e.Changed()) {
			return errs.New(errs.Conflict, op, fmt.Errorf("entity %q key %s: stored changed-timestamp is newer than this instance", desc.Name, key))
		}
	}

	names := o.Fields
	if len(names) == 0 {
		if o.WriteAllFields {
			for _, f := range desc.Fields() {
				names = append(names, fieldAccessorName(f))
			}
		} else {
			names = e.ChangedProperties()
		}
	}
	if len(names) == 0 {
		return nil // step 4: empty field selection is a no-op
	}

	var setCols []string
	values := make(map[int]any)
	var applied []*registry.FieldDesc
	idx := 1 // @v0 is reserved for the key in the WHERE clause
	for _, name := range names {
		if name == "Key" {
			continue
		}
		f, ok := fieldByAccessorName(desc, name)
		if !ok {
			continue
		}
		if (f.Role == registry.RoleTimestampCreated || f.Role == registry.RoleTimestampChanged) && !o.ForceCreate {
			continue
		}
		if f.Delayed && !e.IsDelayedLoaded(f.Name) {
			continue
		}
		raw, ok := e.FieldValue(name)
		if !ok {
			continue
		}
		dbVal, err := c.translator.ToDB(raw, f.HostType, f.Compress)
		if err != nil {
			return errs.New(errs.Conversion, op, err)
		}
		setCols = append(setCols, fmt.Sprintf("%s = @v%d", c.translator.QuoteIdentifier(f.Name), idx))
		values[idx] = dbVal
		idx++
		applied = append(applied, f)
	}
	if len(setCols) == 0 {
		return nil
	}

	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return errs.New(errs.Conversion, op, err)
	}
	values[0] = keyDB

	tpl := c.translator.Command(dialect.Update)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME":    c.translator.QuoteIdentifier(desc.Name),
		"PAIRS":        strings.Join(setCols, ", "),
		"FIELDNAMEKEY": c.translator.QuoteIdentifier(desc.KeyField().Name),
	})
	sqlText, args := resolveIndexed(c.translator, tpl, values)
	if _, err := c.execTraced(ctx, sqlText, args...); err != nil {
		return errs.New(errs.Schema, op, err)
	}

	c.logApplied(desc, e, key, applied)

	e.Commit()
	c.deliver(event.Message{Entity: e, Kind: event.Changed})
	c.trace(c.afterSave, Trace{CommandText: sqlText, Timestamp: time.Now(), Parameters: args, Entity: e})
	return nil
}

func (c *Connection) doInsert(ctx context.Context, desc *registry.TypeDesc, e entity.Data, o Options) error {
	const op = "orm.Connection.Save"
	key := e.Key()
	if entity.IsEmptyKey(key) {
		key = codec.NewGUID()
		e.SetField("Key", key)
	}

	var cols []string
	values := make(map[int]any)
	var applied []*registry.FieldDesc
	idx := 0
	for _, f := range desc.Fields() {
		if (f.Role == registry.RoleTimestampCreated || f.Role == registry.RoleTimestampChanged) && !o.ForceCreate {
			continue
		}
		if f.Delayed && !e.IsDelayedLoaded(f.Name) {
			continue
		}
		name := fieldAccessorName(f)
		raw, ok := e.FieldValue(name)
		if !ok {
			continue
		}
		if f.Role == registry.RolePrimaryKey {
			raw = key
		}
		dbVal, err := c.translator.ToDB(raw, f.HostType, f.Compress)
		if err != nil {
			return errs.New(errs.Conversion, op, err)
		}
		cols = append(cols, c.translator.QuoteIdentifier(f.Name))
		values[idx] = dbVal
		idx++
		applied = append(applied, f)
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("@v%d", i)
	}

	tpl := c.translator.Command(dialect.Insert)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME": c.translator.QuoteIdentifier(desc.Name),
		"FIELDS":    strings.Join(cols, ", "),
		"VALUES":    strings.Join(placeholders, ", "),
	})
	sqlText, args := resolveIndexed(c.translator, tpl, values)
	if _, err := c.execTraced(ctx, sqlText, args...); err != nil {
		return errs.New(errs.Schema, op, err)
	}

	c.logApplied(desc, e, key, applied)

	e.Commit()
	c.deliver(event.Message{Entity: e, Kind: event.Added})
	c.trace(c.afterSave, Trace{CommandText: sqlText, Timestamp: time.Now(), Parameters: args, Entity: e})
	return nil
}

// logApplied emits one ChangeLogEntry per field in applied that has a
// tracked change and whose FieldDesc declares LogChanges, when the entity's
// table declares log_changes and a logger is attached (§4.5 step 8, §8
// invariant 3).
func (c *Connection) logApplied(desc *registry.TypeDesc, e entity.Data, key uuid.UUID, applied []*registry.FieldDesc) {
	if !desc.LogChanges || c.changeLogger == nil {
		return
	}
	for _, f := range applied {
		if !f.LogChanges {
			continue
		}
		name := fieldAccessorName(f)
		old, tracked := e.OldValue(name)
		if !tracked {
			continue
		}
		newVal, _ := e.FieldValue(name)
		c.changeLogger.LogChange(ChangeLogEntry{
			EntityName: desc.Name,
			Key:        key,
			Field:      f.Name,
			OldValue:   old,
			NewValue:   newVal,
		})
	}
}

// Delete removes e's row by primary key, firing AfterDelete and a Deleted
// event on success (§4.5's "Delete").
func (c *Connection) Delete(ctx context.Context, e entity.Data) error {
	const op = "orm.Connection.Delete"
	desc, err := descFor(e)
	if err != nil {
		return err
	}
	if desc.Kind == registry.View {
		return errs.Queryf(op, "view %q rejects Delete", desc.Name)
	}
	if desc.KeyField() == nil {
		return errs.Structuralf(op, "entity %q has no primary-key field", desc.Name)
	}

	key := e.Key()
	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return errs.New(errs.Conversion, op, err)
	}

	tpl := c.translator.Command(dialect.Delete)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME":    c.translator.QuoteIdentifier(desc.Name),
		"FIELDNAMEKEY": c.translator.QuoteIdentifier(desc.KeyField().Name),
	})
	sqlText, args := resolveIndexed(c.translator, tpl, map[int]any{0: keyDB})

	res, err := c.execTraced(ctx, sqlText, args...)
	if err != nil {
		return errs.New(errs.Schema, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.New(errs.Schema, op, err)
	}
	if n != 1 {
		return errs.New(errs.Schema, op, fmt.Errorf("delete affected %d rows, expected 1", n))
	}

	c.deliver(event.Message{Entity: e, Kind: event.Deleted})
	c.trace(c.afterDelete, Trace{CommandText: sqlText, Timestamp: time.Now(), Parameters: args, Entity: e})
	return nil
}

// IsUnique implements §4.5's uniqueness check: true when no other row
// (key <> this one) has the same value in fieldName.
func (c *Connection) IsUnique(ctx context.Context, desc *registry.TypeDesc, key uuid.UUID, fieldName string, value any) (bool, error) {
	const op = "orm.Connection.IsUnique"
	f, ok := desc.Field(fieldName)
	if !ok {
		return false, errs.Structuralf(op, "entity %q has no field %q", desc.Name, fieldName)
	}
	dbVal, err := c.translator.ToDB(value, f.HostType, f.Compress)
	if err != nil {
		return false, errs.New(errs.Conversion, op, err)
	}
	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return false, errs.New(errs.Conversion, op, err)
	}

	q := "SELECT " + c.translator.QuoteIdentifier(desc.KeyField().Name) +
		" FROM " + c.translator.QuoteIdentifier(desc.Name) +
		" WHERE " + c.translator.QuoteIdentifier(desc.KeyField().Name) + " <> ?" +
		" AND " + c.translator.QuoteIdentifier(f.Name) + " = ?"
	sqlText, args := c.bind(q, []any{keyDB, dbVal})

	var discard any
	err = c.queryRowTraced(ctx, sqlText, args...).Scan(&discard)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, errs.New(errs.Schema, op, err)
	}
	return false, nil
}

package orm

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/query"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/google/uuid"
)

// LoadByKey fetches the single row whose primary key equals key into a
// freshly constructed entity, returning (nil, nil) when no row matches
// (§4.5's "by key").
func (c *Connection) LoadByKey(ctx context.Context, newEntity func() entity.Data, key uuid.UUID) (entity.Data, error) {
	const op = "orm.Connection.LoadByKey"
	e := newEntity()
	desc, err := descFor(e)
	if err != nil {
		return nil, err
	}
	if desc.KeyField() == nil {
		return nil, errs.Structuralf(op, "entity %q has no primary-key field", desc.Name)
	}

	tpl := c.translator.Command(dialect.SelectByKey)
	tpl = dialect.Expand(tpl, map[string]string{
		"FIELDS":       c.fieldNameList(desc),
		"TABLENAME":    c.translator.QuoteIdentifier(desc.Name),
		"FIELDNAMEKEY": c.translator.QuoteIdentifier(desc.KeyField().Name),
	})
	keyDB, err := c.translator.ToDB(key, registry.HostGUID, false)
	if err != nil {
		return nil, errs.New(errs.Conversion, op, err)
	}
	sqlText, args := resolveIndexed(c.translator, tpl, map[int]any{0: keyDB})

	rows, err := c.queryTraced(ctx, sqlText, args...)
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errs.New(errs.Schema, op, err)
		}
		return nil, nil
	}
	if err := c.scanInto(rows, desc, e); err != nil {
		return nil, err
	}
	c.attach(e)
	return e, nil
}

// fieldNameList renders every declared field, quoted, for the #FIELDS#
// token of a whole-row template.
func (c *Connection) fieldNameList(desc *registry.TypeDesc) string {
	fields := desc.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = c.translator.QuoteIdentifier(f.Name)
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func (c *Connection) scanInto(rows *sql.Rows, desc *registry.TypeDesc, e entity.Data) error {
	const op = "orm.Connection.scanInto"
	cols, err := rows.Columns()
	if err != nil {
		return errs.New(errs.Schema, op, err)
	}
	dest := scanRow(len(cols))
	if err := rows.Scan(dest...); err != nil {
		return errs.New(errs.Schema, op, err)
	}
	if err := materialize(c.translator, desc, cols, derefRow(dest), e); err != nil {
		return err
	}
	return nil
}

func (c *Connection) attach(e entity.Data) {
	e.Attach(c)
}

// List runs a query.Builder Select, applying OrderBy/GroupOn/Fields from
// opts to the builder before materializing every row into a freshly
// constructed entity, a post-fetch Filter and then a MaxRecords cap
// (§4.5's "the read options apply, in order: server-side ORDER/GROUP/field
// projection, then a client-side predicate, then a row-count cap").
func (c *Connection) List(ctx context.Context, newEntity func() entity.Data, where func(*query.Builder), opts ...Option) ([]entity.Data, error) {
	const op = "orm.Connection.List"
	o := buildOptions(opts)

	proto := newEntity()
	desc, err := descFor(proto)
	if err != nil {
		return nil, err
	}

	b := query.New(c.translator, desc, "").Select(o.Fields...)
	if where != nil {
		where(b)
	}
	if o.OrderBy != "" {
		if o.OrderMode == query.Descending {
			b.OrderDescBy(o.OrderBy)
		} else {
			b.OrderBy(o.OrderBy)
		}
	}
	if o.GroupOn != "" {
		b.GroupOn(o.GroupOn)
	}

	sqlText, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	boundSQL, boundArgs := c.bind(sqlText, params)

	rows, err := c.queryTraced(ctx, boundSQL, boundArgs...)
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}

	var out []entity.Data
	for rows.Next() {
		dest := scanRow(len(cols))
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.New(errs.Schema, op, err)
		}
		e := newEntity()
		if err := materialize(c.translator, desc, cols, derefRow(dest), e); err != nil {
			return nil, err
		}
		c.attach(e)
		if o.Filter != nil && !o.Filter(e) {
			continue
		}
		out = append(out, e)
		if o.MaxRecords > 0 && len(out) >= o.MaxRecords {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	return out, nil
}

// Reader streams query results one row at a time instead of materializing
// the whole result set, bounded by the lifetime of the Connection it was
// opened on (§4.5's "a reader's lifetime is bounded by its owning
// connection; closing or reusing the connection invalidates it").
type Reader struct {
	conn  *Connection
	desc  *registry.TypeDesc
	newE  func() entity.Data
	rows  *sql.Rows
	cols  []string
	eof   bool
}

// NewReader opens a streaming Reader over a query.Builder Select.
func (c *Connection) NewReader(ctx context.Context, newEntity func() entity.Data, where func(*query.Builder), opts ...Option) (*Reader, error) {
	const op = "orm.Connection.NewReader"
	o := buildOptions(opts)

	proto := newEntity()
	desc, err := descFor(proto)
	if err != nil {
		return nil, err
	}

	b := query.New(c.translator, desc, "").Select(o.Fields...)
	if where != nil {
		where(b)
	}
	if o.OrderBy != "" {
		if o.OrderMode == query.Descending {
			b.OrderDescBy(o.OrderBy)
		} else {
			b.OrderBy(o.OrderBy)
		}
	}
	if o.GroupOn != "" {
		b.GroupOn(o.GroupOn)
	}

	sqlText, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	boundSQL, boundArgs := c.bind(sqlText, params)

	rows, err := c.queryTraced(ctx, boundSQL, boundArgs...)
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.New(errs.Schema, op, err)
	}
	return &Reader{conn: c, desc: desc, newE: newEntity, rows: rows, cols: cols}, nil
}

// Read advances to and materializes the next row, returning (nil, false)
// once the result set is exhausted.
func (r *Reader) Read() (entity.Data, bool, error) {
	if r.eof || r.rows == nil {
		return nil, false, nil
	}
	if !r.rows.Next() {
		r.eof = true
		if err := r.rows.Err(); err != nil {
			return nil, false, errs.New(errs.Schema, "orm.Reader.Read", err)
		}
		return nil, false, nil
	}
	dest := scanRow(len(r.cols))
	if err := r.rows.Scan(dest...); err != nil {
		return nil, false, errs.New(errs.Schema, "orm.Reader.Read", err)
	}
	e := r.newE()
	if err := materialize(r.conn.translator, r.desc, r.cols, derefRow(dest), e); err != nil {
		return nil, false, err
	}
	r.conn.attach(e)
	return e, true, nil
}

// EOF reports whether the prior Read exhausted the result set.
func (r *Reader) EOF() bool { return r.eof }

// Close releases the underlying driver rows. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}

// RawRow is one row of an ad hoc tabular query, keyed by column name.
type RawRow map[string]any

// Raw executes sqlText against this connection's driver verbatim (with
// args bound through the dialect's native placeholder syntax) and returns
// the full result set as column-keyed rows, for reporting-style queries
// the entity-oriented Select family can't express (§4.5's "raw tabular
// query").
func (c *Connection) Raw(ctx context.Context, sqlText string, args ...any) ([]RawRow, error) {
	const op = "orm.Connection.Raw"
	boundSQL, boundArgs := c.bind(sqlText, args)

	rows, err := c.queryTraced(ctx, boundSQL, boundArgs...)
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}

	var out []RawRow
	for rows.Next() {
		dest := scanRow(len(cols))
		if err := rows.Scan(dest...); err != nil {
			return nil, errs.New(errs.Schema, op, err)
		}
		vals := derefRow(dest)
		row := make(RawRow, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	return out, nil
}

// Count executes a SELECT COUNT(field) over desc, optionally narrowed by
// where, per §4.5's count/sum select shape.
func (c *Connection) Count(ctx context.Context, desc *registry.TypeDesc, field string, where func(*query.Builder)) (int64, error) {
	v, err := c.aggregate(ctx, desc, field, where, true)
	if err != nil {
		return 0, err
	}
	return int64FromAny(v), nil
}

// Sum executes a SELECT SUM(field) over desc, optionally narrowed by
// where.
func (c *Connection) Sum(ctx context.Context, desc *registry.TypeDesc, field string, where func(*query.Builder)) (float64, error) {
	n, err := c.aggregate(ctx, desc, field, where, false)
	return float64FromAny(n), err
}

func (c *Connection) aggregate(ctx context.Context, desc *registry.TypeDesc, field string, where func(*query.Builder), count bool) (any, error) {
	const op = "orm.Connection.aggregate"
	b := query.New(c.translator, desc, "")
	if count {
		b.Count(field)
	} else {
		b.Sum(field)
	}
	if where != nil {
		where(b)
	}
	sqlText, params, err := b.Build()
	if err != nil {
		return nil, err
	}
	boundSQL, boundArgs := c.bind(sqlText, params)

	var v any
	if err := c.queryRowTraced(ctx, boundSQL, boundArgs...).Scan(&v); err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	return v, nil
}

func float64FromAny(v any) float64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return 0
	}
}

func int64FromAny(v any) int64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float())
	default:
		return 0
	}
}

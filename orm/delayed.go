package orm

import (
	"context"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// LoadDelayedField satisfies entity.Database: reading a delayed field that
// has not yet been fetched triggers an on-demand single-value SELECT
// through a sibling, non-transactional connection rather than disturbing
// any transaction active on c (§4.5's delayed field semantics), then marks
// the field loaded on e so a later read doesn't re-fetch it.
func (c *Connection) LoadDelayedField(e entity.Data, fieldName string) (any, error) {
	const op = "orm.Connection.LoadDelayedField"
	desc, err := descFor(e)
	if err != nil {
		return nil, err
	}
	f, ok := desc.Field(fieldName)
	if !ok {
		return nil, errs.Structuralf(op, "entity %q has no field %q", desc.Name, fieldName)
	}
	if desc.KeyField() == nil {
		return nil, errs.Structuralf(op, "entity %q has no primary-key field", desc.Name)
	}

	sib := c.sibling()
	ctx := context.Background()

	tpl := sib.translator.Command(dialect.LoadSingleValue)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME":    sib.translator.QuoteIdentifier(desc.Name),
		"FIELDNAMEKEY": sib.translator.QuoteIdentifier(desc.KeyField().Name),
		"FIELDS":       sib.translator.QuoteIdentifier(f.Name),
	})
	keyDB, err := sib.translator.ToDB(e.Key(), registry.HostGUID, false)
	if err != nil {
		return nil, errs.New(errs.Conversion, op, err)
	}
	sqlText, args := resolveIndexed(sib.translator, tpl, map[int]any{0: keyDB})

	var raw any
	if err := sib.queryRowTraced(ctx, sqlText, args...).Scan(&raw); err != nil {
		return nil, errs.New(errs.Schema, op, err)
	}
	v, err := sib.translator.FromDB(raw, f.HostType)
	if err != nil {
		return nil, errs.New(errs.Conversion, op, err)
	}

	e.SetField(fieldAccessorName(f), v)
	e.MarkDelayedLoaded(fieldName)
	return v, nil
}

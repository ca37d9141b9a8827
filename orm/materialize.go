package orm

import (
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// fieldByColumnCI finds the FieldDesc whose declared name matches column,
// case-insensitively (§4.5's "maps reader columns to fields by
// case-insensitive name").
func fieldByColumnCI(desc *registry.TypeDesc, column string) *registry.FieldDesc {
	for _, f := range desc.Fields() {
		if strings.EqualFold(f.Name, column) {
			return f
		}
	}
	return nil
}

// materialize assigns each reader column whose name case-insensitively
// matches a FieldDesc onto e via the field accessor, converting through
// from_db; write-only or unknown columns are ignored. After every column is
// assigned it commits the tracking buffer and invokes AfterLoad (§4.5's
// "Row materialization").
func materialize(translator dialect.Translator, desc *registry.TypeDesc, columns []string, values []any, e entity.Data) error {
	const op = "orm.materialize"
	for i, col := range columns {
		f := fieldByColumnCI(desc, col)
		if f == nil {
			continue
		}
		v, err := translator.FromDB(values[i], f.HostType)
		if err != nil {
			return errs.Conversionf(op, "field %q: %w", f.Name, err)
		}
		name := fieldAccessorName(f)
		if !e.SetField(name, v) {
			continue
		}
		if f.Delayed {
			e.MarkDelayedLoaded(f.Name)
		}
	}
	e.Commit()
	e.AfterLoad()
	return nil
}

// scanRow allocates the scan destinations for one *sql.Rows row: cols
// fresh *any values, so sql.Rows.Scan boxes each cell by its own
// conversion rules. derefRow unwraps them after the Scan.
func scanRow(cols int) []any {
	dest := make([]any, cols)
	for i := range dest {
		dest[i] = new(any)
	}
	return dest
}

func derefRow(dest []any) []any {
	out := make([]any, len(dest))
	for i, d := range dest {
		out[i] = *(d.(*any))
	}
	return out
}

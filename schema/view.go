package schema

import (
	"context"
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// checkView implements §4.6 step 5: the view is unconditionally dropped
// (if present) and recreated from desc.QueryTemplate with #FIELDS#
// substituted by the view-only columns first, then the source-mapped
// columns aliased back to their declared names.
func (e *Engine) checkView(ctx context.Context, desc *registry.TypeDesc) error {
	const op = "schema.Engine.checkView"

	if desc.QueryTemplate == "" {
		return errs.Schemaf(op, "view %q has no query template", desc.Name)
	}

	exists, err := e.viewExists(ctx, desc.Name)
	if err != nil {
		return errs.Schemaf(op, "checking existence of view %q: %w", desc.Name, err)
	}
	if exists {
		dropTpl := e.translator.Command(dialect.DropView)
		ddl := dialect.Expand(dropTpl, map[string]string{"TABLENAME": e.translator.QuoteIdentifier(desc.Name)})
		if err := e.exec(ctx, ddl); err != nil {
			return errs.Schemaf(op, "dropping view %q: %w", desc.Name, err)
		}
	}

	fieldList := e.renderViewFields(desc)
	query := dialect.Expand(desc.QueryTemplate, map[string]string{"FIELDS": fieldList})

	tpl := e.translator.Command(dialect.CreateView)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"QUERY":     query,
	})
	if err := e.exec(ctx, ddl); err != nil {
		return errs.Schemaf(op, "creating view %q: %w", desc.Name, err)
	}
	return nil
}

// renderViewFields lists view-only columns (no SourceField) first, then
// source-mapped columns aliased back to their declared name, per §4.6 step
// 5's ordering.
func (e *Engine) renderViewFields(desc *registry.TypeDesc) string {
	var viewOnly, mapped []string
	for _, f := range desc.Fields() {
		if f.SourceField == "" {
			viewOnly = append(viewOnly, e.translator.QuoteIdentifier(f.Name))
		} else {
			mapped = append(mapped, e.translator.QuoteIdentifier(f.SourceField)+" AS "+e.translator.QuoteIdentifier(f.Name))
		}
	}
	return strings.Join(append(viewOnly, mapped...), ", ")
}

func (e *Engine) viewExists(ctx context.Context, name string) (bool, error) {
	row := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.VIEWS WHERE TABLE_NAME = "+e.placeholder(0), name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

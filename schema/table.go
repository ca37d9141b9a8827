package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// checkTable implements §4.6 step 3: create the table if it is missing,
// then converge every declared field (create, widen, reindex, constrain),
// and finally — when configured — drop live columns the declaration no
// longer names.
func (e *Engine) checkTable(ctx context.Context, desc *registry.TypeDesc) error {
	const op = "schema.Engine.checkTable"

	if desc.KeyField() == nil || desc.CreatedField() == nil || desc.ChangedField() == nil {
		return errs.Schemaf(op, "table %q is missing a key/created/changed field", desc.Name)
	}

	exists, err := e.tableExists(ctx, desc.Name)
	if err != nil {
		return errs.Schemaf(op, "checking existence of %q: %w", desc.Name, err)
	}

	if !exists {
		if err := e.createTable(ctx, desc); err != nil {
			return errs.Schemaf(op, "creating table %q: %w", desc.Name, err)
		}
	}

	liveColumns, err := e.liveColumns(ctx, desc.Name)
	if err != nil {
		return errs.Schemaf(op, "reading live columns of %q: %w", desc.Name, err)
	}

	processed := make(map[string]bool, len(desc.Fields()))
	for _, f := range desc.Fields() {
		norm := normalizeIdentifier(f.Name, e.translator.Kind())
		processed[norm] = true

		live, ok := liveColumns[norm]
		if !ok {
			if err := e.createField(ctx, desc, f); err != nil {
				return errs.Schemaf(op, "adding column %q.%q: %w", desc.Name, f.Name, err)
			}
		} else if f.HostType == registry.HostString && f.MaxLength >= 0 && live.charLength > 0 && live.charLength < f.MaxLength {
			if err := e.alterFieldLength(ctx, desc, f); err != nil {
				return errs.Schemaf(op, "widening column %q.%q: %w", desc.Name, f.Name, err)
			}
		}

		if f.Indexed {
			if err := e.reindex(ctx, desc, f); err != nil {
				return errs.Schemaf(op, "indexing %q.%q: %w", desc.Name, f.Name, err)
			}
		}

		if f.ConstraintType != "" {
			if err := e.ensureForeignKey(ctx, desc, f); err != nil {
				return errs.Schemaf(op, "constraining %q.%q: %w", desc.Name, f.Name, err)
			}
		}
	}

	if e.cfg.AllowDropColumns {
		for norm, live := range liveColumns {
			if processed[norm] {
				continue
			}
			if err := e.dropColumn(ctx, desc, live.name); err != nil {
				return errs.Schemaf(op, "dropping column %q.%q: %w", desc.Name, live.name, err)
			}
		}
	}

	return nil
}

func (e *Engine) createTable(ctx context.Context, desc *registry.TypeDesc) error {
	defs := make([]string, 0, len(desc.Fields()))
	for _, f := range desc.Fields() {
		defs = append(defs, e.fieldColumnDDL(f))
	}
	fieldsSQL := strings.Join(defs, ", ")

	tpl := e.translator.Command(dialect.CreateTable)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"FIELDS":    fieldsSQL,
	})

	// §4.6 step 3: the table plus its key index and before-triggers are
	// created atomically; a failure anywhere in the sequence rolls the
	// whole thing back rather than leaving a half-built table live.
	beginner, canBeginTx := e.db.(BeginTxer)
	if !canBeginTx {
		return e.alterSchema(ctx, func() error {
			return e.runCreateTableSteps(ctx, e.db, desc, ddl)
		})
	}

	return e.alterSchema(ctx, func() error {
		tx, err := beginner.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := e.runCreateTableSteps(ctx, tx, desc, ddl); err != nil {
			_ = tx.Rollback()
			return errs.Structuralf("schema.Engine.createTable", "creating %q: %w", desc.Name, err)
		}
		return tx.Commit()
	})
}

func (e *Engine) runCreateTableSteps(ctx context.Context, exec Executor, desc *registry.TypeDesc, createDDL string) error {
	if _, err := exec.ExecContext(ctx, createDDL); err != nil {
		return err
	}

	keyField := desc.KeyField()
	if keyField != nil && keyField.Indexed {
		if err := e.reindexOn(ctx, exec, desc, keyField); err != nil {
			return err
		}
	}

	if before := e.triggerDDL(desc, dialect.TriggerBeforeInsert); before != "" {
		if _, err := exec.ExecContext(ctx, before); err != nil {
			return err
		}
	}
	if before := e.triggerDDL(desc, dialect.TriggerBeforeUpdate); before != "" {
		if _, err := exec.ExecContext(ctx, before); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) triggerDDL(desc *registry.TypeDesc, kind dialect.CommandKind) string {
	tpl := e.translator.Command(kind)
	if tpl == "" {
		return ""
	}
	name := fmt.Sprintf("TRG_%s_%d", strings.ToUpper(desc.Name), kind)
	return dialect.Expand(tpl, map[string]string{
		"NAME":      e.translator.QuoteIdentifier(name),
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"CODE":      "BEGIN END",
	})
}

func (e *Engine) createField(ctx context.Context, desc *registry.TypeDesc, f *registry.FieldDesc) error {
	typeDef := e.translator.FieldDef(f.HostType)
	typeDef = dialect.Expand(typeDef, map[string]string{
		"SIZE":      sizeWord(f.MaxLength),
		"BLOCKSIZE": fmt.Sprintf("%d", f.BlobBlockSize),
	})

	tpl := e.translator.Command(dialect.CreateField)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME":    e.translator.QuoteIdentifier(desc.Name),
		"NAME":         e.translator.QuoteIdentifier(f.Name),
		"FIELDOPTIONS": typeDef,
	})
	return e.exec(ctx, ddl)
}

func (e *Engine) alterFieldLength(ctx context.Context, desc *registry.TypeDesc, f *registry.FieldDesc) error {
	typeDef := e.translator.FieldDef(f.HostType)
	typeDef = dialect.Expand(typeDef, map[string]string{
		"SIZE":      sizeWord(f.MaxLength),
		"BLOCKSIZE": fmt.Sprintf("%d", f.BlobBlockSize),
	})

	tpl := e.translator.Command(dialect.AlterFieldLength)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME":    e.translator.QuoteIdentifier(desc.Name),
		"NAME":         e.translator.QuoteIdentifier(f.Name),
		"FIELDOPTIONS": typeDef,
	})
	return e.exec(ctx, ddl)
}

func (e *Engine) dropColumn(ctx context.Context, desc *registry.TypeDesc, liveName string) error {
	if err := e.dropIndexIfExists(ctx, desc, "IDX_"+liveName); err != nil {
		return err
	}
	tpl := e.translator.Command(dialect.DropField)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"NAME":      e.translator.QuoteIdentifier(liveName),
	})
	return e.exec(ctx, ddl)
}

// reindex implements §4.6's "drop any index named IDX_<field> and recreate"
// step: system-role fields suffix the index name with the table id to avoid
// collisions across entity types that reuse a role field's name.
func (e *Engine) reindex(ctx context.Context, desc *registry.TypeDesc, f *registry.FieldDesc) error {
	return e.reindexOn(ctx, e.db, desc, f)
}

func (e *Engine) reindexOn(ctx context.Context, exec Executor, desc *registry.TypeDesc, f *registry.FieldDesc) error {
	name := indexName(f, desc.ID)

	if err := e.dropIndexIfExistsOn(ctx, exec, desc, name); err != nil {
		return err
	}

	uniqueness := "NOT UNIQUE"
	if f.Unique {
		uniqueness = "UNIQUE"
	}
	options := uniqueness
	if f.IndexDefinition != "" {
		options = f.IndexDefinition
	}

	tpl := e.translator.Command(dialect.CreateIndex)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME":    e.translator.QuoteIdentifier(desc.Name),
		"NAME":         e.translator.QuoteIdentifier(name),
		"FIELDS":       e.translator.QuoteIdentifier(f.Name),
		"FIELDOPTIONS": options,
	})
	_, err := exec.ExecContext(ctx, ddl)
	return err
}

func (e *Engine) dropIndexIfExists(ctx context.Context, desc *registry.TypeDesc, name string) error {
	return e.dropIndexIfExistsOn(ctx, e.db, desc, name)
}

func (e *Engine) dropIndexIfExistsOn(ctx context.Context, exec Executor, desc *registry.TypeDesc, name string) error {
	tpl := e.translator.Command(dialect.ExistIndex)
	row := exec.QueryRowContext(ctx, strings.ReplaceAll(strings.ReplaceAll(tpl,
		"#TABLENAME#", desc.Name), "#NAME#", name))
	var count int
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	dropTpl := e.translator.Command(dialect.DropIndex)
	ddl := dialect.Expand(dropTpl, map[string]string{
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"NAME":      e.translator.QuoteIdentifier(name),
	})
	_, err := exec.ExecContext(ctx, ddl)
	return err
}

// ensureForeignKey implements §4.6's recursive foreign-key step: the
// referenced entity type is checked first (cycle-guarded via e.checking),
// then the FKEY_<field> constraint is created if it does not already
// exist.
func (e *Engine) ensureForeignKey(ctx context.Context, desc *registry.TypeDesc, f *registry.FieldDesc) error {
	if e.resolve != nil {
		if e.checking[f.ConstraintType] {
			return nil // already converging this target on the current call stack
		}
		if target, ok := e.resolve(f.ConstraintType); ok {
			e.checking[f.ConstraintType] = true
			err := e.Check(ctx, target, false)
			delete(e.checking, f.ConstraintType)
			if err != nil {
				return err
			}
		}
	}

	name := constraintName(f)
	exists, err := e.constraintExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	code := fmt.Sprintf("FOREIGN KEY ( %s ) REFERENCES %s ON UPDATE %s ON DELETE %s",
		e.translator.QuoteIdentifier(f.Name),
		e.translator.QuoteIdentifier(f.ConstraintType),
		onActionSQL(f.ConstraintOnUpdate),
		onActionSQL(f.ConstraintOnDelete))

	tpl := e.translator.Command(dialect.CreateConstraint)
	ddl := dialect.Expand(tpl, map[string]string{
		"TABLENAME": e.translator.QuoteIdentifier(desc.Name),
		"NAME":      e.translator.QuoteIdentifier(name),
		"CODE":      code,
	})
	return e.exec(ctx, ddl)
}

func (e *Engine) constraintExists(ctx context.Context, name string) (bool, error) {
	row := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS WHERE CONSTRAINT_NAME = "+e.placeholder(0), name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

type liveColumn struct {
	name       string
	charLength int
}

// liveColumns reads the live column set for tableName from
// INFORMATION_SCHEMA.COLUMNS, keyed by normalized name.
func (e *Engine) liveColumns(ctx context.Context, tableName string) (map[string]liveColumn, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT COLUMN_NAME, CHARACTER_MAXIMUM_LENGTH FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = "+e.placeholder(0),
		tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]liveColumn)
	for rows.Next() {
		var name string
		var charLength *int
		if err := rows.Scan(&name, &charLength); err != nil {
			return nil, err
		}
		length := 0
		if charLength != nil {
			length = *charLength
		}
		norm := normalizeIdentifier(name, e.translator.Kind())
		out[norm] = liveColumn{name: name, charLength: length}
	}
	return out, rows.Err()
}

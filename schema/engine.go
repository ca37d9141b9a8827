// Package schema is the schema engine of §4.6: idempotent convergence of a
// declared TypeDesc to the live database. Check loads or creates a
// SystemInformation row keyed by entity name, compares the stored declared
// version against the TypeDesc's declared version, and (when stale, or when
// forced) runs the table or view checker to bring the live schema in line.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// Executor is the minimal driver surface the schema engine needs; *sql.DB
// and *sql.Tx both satisfy it, so a caller can run Check either
// stand-alone or nested inside an existing transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BeginTxer is implemented by executors that can open their own
// transaction, used by the table checker when it must create a table plus
// its triggers atomically.
type BeginTxer interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Config is the subset of application configuration the schema engine
// consults (§6).
type Config struct {
	AllowDropColumns bool
}

// Resolver looks up a TypeDesc by entity name, used to recursively check a
// foreign-key target table before the constraint referencing it is created.
type Resolver func(entityName string) (*registry.TypeDesc, bool)

// Engine converges declared entity types to the live database for one
// dialect.
type Engine struct {
	db         Executor
	translator dialect.Translator
	cfg        Config
	resolve    Resolver

	checking map[string]bool // cycle guard while recursively checking FK targets
}

// New constructs an Engine. resolve is used to find the TypeDesc for a
// field's ConstraintType when a foreign-key target must be checked first;
// it may be nil if no declared type uses Constraint.
func New(db Executor, translator dialect.Translator, cfg Config, resolve Resolver) *Engine {
	return &Engine{db: db, translator: translator, cfg: cfg, resolve: resolve, checking: make(map[string]bool)}
}

// placeholder renders the n-th (0-based) bind parameter in this dialect's
// native positional syntax, for the handful of raw statements the engine
// issues directly against the driver rather than through the orm binder.
func (e *Engine) placeholder(n int) string {
	return e.translator.Placeholder(n)
}

// Check is the schema engine's entry point (§4.6 step 1-2): it loads or
// creates the SystemInformation row for desc, and — when force is true or
// the stored declared_version is behind desc.Version — runs the table or
// view checker and then persists the new version.
func (e *Engine) Check(ctx context.Context, desc *registry.TypeDesc, force bool) error {
	const op = "schema.Engine.Check"

	if err := e.ensureSystemInformationTable(ctx); err != nil {
		return errs.Schemaf(op, "system information table: %w", err)
	}

	stored, ok, err := e.loadVersion(ctx, desc.Name)
	if err != nil {
		return errs.Schemaf(op, "loading stored version for %q: %w", desc.Name, err)
	}

	if ok && !force && stored >= desc.Version {
		return nil
	}

	switch desc.Kind {
	case registry.Table:
		if err := e.checkTable(ctx, desc); err != nil {
			return err
		}
	case registry.View:
		if err := e.checkView(ctx, desc); err != nil {
			return err
		}
	default:
		return errs.Schemaf(op, "entity %q: unknown kind", desc.Name)
	}

	if err := e.storeVersion(ctx, desc.Name, desc.Version); err != nil {
		return errs.Schemaf(op, "storing version for %q: %w", desc.Name, err)
	}
	return nil
}

// CheckAll runs Check for every TypeDesc in descs, ordered so a table is
// converged before any table whose foreign key references it, stopping at
// the first error. Check's own recursive per-field foreign-key handling
// (via the checking cycle guard) means this ordering is an optimization —
// correctness does not depend on it — but it keeps constraint creation
// from bouncing back and forth across entities declared out of dependency
// order.
func (e *Engine) CheckAll(ctx context.Context, descs []*registry.TypeDesc, force bool) error {
	deps := make(map[string][]string, len(descs))
	for _, d := range descs {
		var names []string
		for _, f := range d.Fields() {
			if f.ConstraintType != "" {
				names = append(names, f.ConstraintType)
			}
		}
		deps[d.Name] = names
	}
	ordered := topologicalSort(descs, deps, func(d *registry.TypeDesc) string { return d.Name })

	for _, d := range ordered {
		if err := e.Check(ctx, d, force); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) alterSchema(ctx context.Context, fn func() error) error {
	if before := e.translator.Command(dialect.BeforeAlterSchema); before != "" {
		if _, err := e.db.ExecContext(ctx, before); err != nil {
			return err
		}
	}
	err := fn()
	if after := e.translator.Command(dialect.AfterAlterSchema); after != "" {
		if _, aerr := e.db.ExecContext(ctx, after); aerr != nil && err == nil {
			err = aerr
		}
	}
	return err
}

func (e *Engine) exec(ctx context.Context, sql string, args ...any) error {
	return e.alterSchema(ctx, func() error {
		_, err := e.db.ExecContext(ctx, sql, args...)
		return err
	})
}

// fieldColumnDDL renders one field's inline column definition, substituting
// #SIZE# and #BLOCKSIZE# into the type-specific field_def template (§4.6
// step 3).
func (e *Engine) fieldColumnDDL(f *registry.FieldDesc) string {
	typeDef := e.translator.FieldDef(f.HostType)
	typeDef = dialect.Expand(typeDef, map[string]string{
		"SIZE":      sizeWord(f.MaxLength),
		"BLOCKSIZE": fmt.Sprintf("%d", f.BlobBlockSize),
	})
	return e.translator.QuoteIdentifier(f.Name) + " " + typeDef
}

func sizeWord(maxLength int) string {
	if maxLength < 0 {
		return "MAX"
	}
	return fmt.Sprintf("%d", maxLength)
}

func indexName(f *registry.FieldDesc, tableID int) string {
	name := "IDX_" + f.Name
	if f.Role != registry.RoleNone {
		name = fmt.Sprintf("%s_%d", name, tableID)
	}
	return name
}

func constraintName(f *registry.FieldDesc) string {
	return "FKEY_" + f.Name
}

func onActionSQL(a registry.ConstraintAction) string {
	switch a {
	case registry.Cascade:
		return "CASCADE"
	case registry.SetDefault:
		return "SET DEFAULT"
	case registry.SetNull:
		return "SET NULL"
	default:
		return "NO ACTION"
	}
}

package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/orm"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/entitymapper/entitymapper/schema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NameCasing is the identifier-casing convention a Database normalizes
// table/column names and constant literals to (§6's "name_casing").
type NameCasing int

const (
	Original NameCasing = iota
	Lower
	Upper
)

// Database is the §6 "database capability": the per-dialect factory that
// opens connections, bootstraps the database itself and converges declared
// schema onto it.
type Database struct {
	cfg        Config
	translator dialect.Translator
	casing     NameCasing

	pool *sql.DB

	user, password           string
	adminUser, adminPassword string

	log *zap.Logger
}

// New constructs a Database for cfg. casing defaults to Original; override
// with SetNameCasing.
func New(cfg Config) (*Database, error) {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &Database{
		cfg:        cfg,
		translator: dialect.For(cfg.Dialect),
		casing:     Original,
		log:        log,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("config: unknown log_level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// SetCredentials sets the user/password used to open application
// connections via OpenConnection.
func (d *Database) SetCredentials(user, password string) {
	d.user, d.password = user, password
}

// SetAdminCredentials sets the user/password used for Exists/Create, which
// must connect to the server's bootstrap database rather than the
// (possibly not-yet-existing) target database.
func (d *Database) SetAdminCredentials(user, password string) {
	d.adminUser, d.adminPassword = user, password
}

// SetNameCasing overrides the identifier-casing convention applied by
// TranslateName/TranslateConstant.
func (d *Database) SetNameCasing(c NameCasing) { d.casing = c }

// Translator exposes the dialect translator backing this Database.
func (d *Database) Translator() dialect.Translator { return d.translator }

// Logger exposes the operational zap logger constructed from
// Config.LogLevel.
func (d *Database) Logger() *zap.Logger { return d.log }

// TranslateName applies this Database's NameCasing convention to an
// identifier, the normalization step §6's "translate_name" performs before
// an identifier reaches the query builder or schema engine.
func (d *Database) TranslateName(s string) string {
	switch d.casing {
	case Lower:
		return strings.ToLower(s)
	case Upper:
		return strings.ToUpper(s)
	default:
		return s
	}
}

// TranslateConstant applies the same casing convention to a constant
// literal (e.g. an enum value serialized as a string), per §6's
// "translate_constant".
func (d *Database) TranslateConstant(c string) string {
	return d.TranslateName(c)
}

func (d *Database) dsn(dbName, user, password string) string {
	if d.cfg.ConnectionString != "" {
		return d.cfg.ConnectionString
	}
	return d.translator.BuildDSN(dialect.ConnConfig{
		DbName:   dbName,
		User:     user,
		Password: password,
	})
}

// bootstrapDatabaseName names the always-present administrative database a
// CREATE/DROP DATABASE statement runs against, since a connection cannot
// issue either while connected to the database it is creating or dropping.
func (d *Database) bootstrapDatabaseName() (string, error) {
	switch d.translator.Kind() {
	case dialect.PostgreSql:
		return "postgres", nil
	case dialect.MsSql, dialect.AzureSql:
		return "master", nil
	default:
		return "", errs.Schemaf("config.Database.bootstrapDatabaseName",
			"dialect %s has no administrative bootstrap database; database-level create/exists is not supported", d.translator.Kind())
	}
}

// Exists reports whether Config.DatabaseName already exists on the server,
// connecting as the admin credentials to the dialect's bootstrap database.
func (d *Database) Exists(ctx context.Context) (bool, error) {
	const op = "config.Database.Exists"
	boot, err := d.bootstrapDatabaseName()
	if err != nil {
		return false, err
	}
	admin, err := sql.Open(d.translator.DriverName(), d.dsn(boot, d.adminUser, d.adminPassword))
	if err != nil {
		return false, errs.New(errs.Connection, op, err)
	}
	defer admin.Close()

	var query string
	switch d.translator.Kind() {
	case dialect.PostgreSql:
		query = "SELECT 1 FROM pg_database WHERE datname = " + d.translator.Placeholder(0)
	case dialect.MsSql, dialect.AzureSql:
		query = "SELECT 1 FROM sys.databases WHERE name = " + d.translator.Placeholder(0)
	}

	var discard int
	err = admin.QueryRowContext(ctx, query, d.cfg.DatabaseName).Scan(&discard)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.New(errs.Schema, op, err)
	}
	return true, nil
}

// Create issues CREATE DATABASE for Config.DatabaseName against the
// dialect's bootstrap database, connecting with the admin credentials.
func (d *Database) Create(ctx context.Context) error {
	const op = "config.Database.Create"
	boot, err := d.bootstrapDatabaseName()
	if err != nil {
		return err
	}
	admin, err := sql.Open(d.translator.DriverName(), d.dsn(boot, d.adminUser, d.adminPassword))
	if err != nil {
		return errs.New(errs.Connection, op, err)
	}
	defer admin.Close()

	stmt := "CREATE DATABASE " + d.translator.QuoteIdentifier(d.cfg.DatabaseName)
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return errs.New(errs.Schema, op, err)
	}
	return nil
}

func (d *Database) ensurePool() error {
	const op = "config.Database.ensurePool"
	if d.pool != nil {
		return nil
	}
	pool, err := sql.Open(d.translator.DriverName(), d.dsn(d.cfg.DatabaseName, d.user, d.password))
	if err != nil {
		return errs.New(errs.Connection, op, err)
	}
	d.pool = pool
	return nil
}

// OpenConnection opens the driver pool (once, lazily) and returns a scoped
// orm.Connection bound to it, configured with this Database's conflict
// mode and logger (§6's "open_connection").
func (d *Database) OpenConnection(opts ...orm.ConnOption) (*orm.Connection, error) {
	if err := d.ensurePool(); err != nil {
		return nil, err
	}
	base := []orm.ConnOption{
		orm.WithConflictMode(d.cfg.ConflictMode),
		orm.WithLogger(d.log),
	}
	return orm.New(d.pool, d.translator, append(base, opts...)...), nil
}

// Close closes the underlying driver pool, if one was opened.
func (d *Database) Close() error {
	if d.pool == nil {
		return nil
	}
	return d.pool.Close()
}

// Check converges tables and views in dependency order, force-rechecking
// every entity when force is set, reporting each converged entity's name
// to feedback as it completes (§6's "check(tables, views, feedback,
// force)").
func (d *Database) Check(ctx context.Context, tables, views []*registry.TypeDesc, feedback func(entityName string), force bool) error {
	const op = "config.Database.Check"
	if err := d.ensurePool(); err != nil {
		return err
	}

	resolve := func(name string) (*registry.TypeDesc, bool) {
		for _, t := range tables {
			if t.Name == name {
				return t, true
			}
		}
		return nil, false
	}

	engine := schema.New(d.pool, d.translator, schema.Config{AllowDropColumns: d.cfg.AllowDropColumns}, resolve)

	all := make([]*registry.TypeDesc, 0, len(tables)+len(views))
	all = append(all, tables...)
	all = append(all, views...)

	for _, desc := range all {
		if err := engine.Check(ctx, desc, force); err != nil {
			return errs.New(errs.Schema, op, err)
		}
		if feedback != nil {
			feedback(desc.Name)
		}
	}
	return nil
}

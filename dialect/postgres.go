package dialect

import (
	"fmt"

	"github.com/entitymapper/entitymapper/registry"
)

type postgresDialect struct {
	base
}

func newPostgres() Translator {
	b := newBase(PostgreSql)
	b.commands[SelectTop] = "SELECT #FIELDS# FROM #TABLENAME# LIMIT #COUNT#"
	b.fields[registry.HostGUID] = "UUID"
	b.fields[registry.HostBool] = "BOOLEAN"
	b.fields[registry.HostInt64] = "BIGINT"
	b.fields[registry.HostDateTime] = "TIMESTAMPTZ"
	b.quote = func(s string) string { return `"` + s + `"` }

	b.rewriter.RegisterPlaceholder("TODAY", "CURRENT_DATE")
	b.rewriter.RegisterPlaceholder("YESTERDAY", "(CURRENT_DATE - INTERVAL '1 day')")
	b.rewriter.RegisterPlaceholder("TOMORROW", "(CURRENT_DATE + INTERVAL '1 day')")
	b.rewriter.RegisterPlaceholder("PASTMONTH", "(CURRENT_DATE - INTERVAL '1 month')")
	b.rewriter.RegisterPlaceholder("PASTYEAR", "(CURRENT_DATE - INTERVAL '1 year')")
	b.rewriter.RegisterPlaceholder("FOLLOWMONTH", "(CURRENT_DATE + INTERVAL '1 month')")
	b.rewriter.RegisterPlaceholder("FOLLOWYEAR", "(CURRENT_DATE + INTERVAL '1 year')")
	b.rewriter.RegisterPlaceholder("EMPTYGUID", "'00000000-0000-0000-0000-000000000000'::uuid")
	b.rewriter.RegisterFunction("YEAR", []string{"p1"}, "EXTRACT(YEAR FROM <p1>)")
	b.rewriter.RegisterFunction("MONTH", []string{"p1"}, "EXTRACT(MONTH FROM <p1>)")
	b.rewriter.RegisterFunction("DAY", []string{"p1"}, "EXTRACT(DAY FROM <p1>)")
	b.rewriter.RegisterFunction("HOUR", []string{"p1"}, "EXTRACT(HOUR FROM <p1>)")
	b.rewriter.RegisterFunction("MINUTE", []string{"p1"}, "EXTRACT(MINUTE FROM <p1>)")

	return postgresDialect{base: b}
}

func (p postgresDialect) ToDB(v any, ft registry.HostType, compressIfBlob bool) (any, error) {
	return toDB(v, ft, compressIfBlob)
}

func (p postgresDialect) FromDB(v any, ft registry.HostType) (any, error) {
	return fromDB(v, ft)
}

func (p postgresDialect) DriverName() string { return "postgres" }

func (p postgresDialect) BuildDSN(cfg ConnConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DbName)
}

package dialect

import (
	"fmt"

	"github.com/entitymapper/entitymapper/registry"
)

// firebird is shared by FirebirdServer and FirebirdEmbedded: identical SQL
// dialect, different DSN shape (embedded talks to a local .fdb file path,
// server talks to a host:port/alias). Per SPEC_FULL.md's DOMAIN STACK notes,
// no Firebird wire driver exists anywhere in the example pack, so this
// mapper never imports one — DriverName just names the database/sql driver
// the application is expected to have registered, exactly the seam the
// teacher itself treats as opaque.
type firebird struct {
	base
	embedded bool
}

func newFirebirdBase(kind Kind, embedded bool) firebird {
	b := newBase(kind)
	b.commands[SelectTop] = "SELECT FIRST #COUNT# #FIELDS# FROM #TABLENAME#"
	b.quote = func(s string) string { return `"` + s + `"` }

	b.rewriter.RegisterPlaceholder("TODAY", "CAST('TODAY' AS DATE)")
	b.rewriter.RegisterPlaceholder("YESTERDAY", "CAST('YESTERDAY' AS DATE)")
	b.rewriter.RegisterPlaceholder("TOMORROW", "CAST('TOMORROW' AS DATE)")
	b.rewriter.RegisterPlaceholder("PASTMONTH", "DATEADD(-1 MONTH TO CURRENT_DATE)")
	b.rewriter.RegisterPlaceholder("PASTYEAR", "DATEADD(-1 YEAR TO CURRENT_DATE)")
	b.rewriter.RegisterPlaceholder("FOLLOWMONTH", "DATEADD(1 MONTH TO CURRENT_DATE)")
	b.rewriter.RegisterPlaceholder("FOLLOWYEAR", "DATEADD(1 YEAR TO CURRENT_DATE)")
	b.rewriter.RegisterPlaceholder("EMPTYGUID", "'00000000-0000-0000-0000-000000000000'")
	b.rewriter.RegisterFunction("YEAR", []string{"p1"}, "EXTRACT(YEAR FROM <p1>)")
	b.rewriter.RegisterFunction("MONTH", []string{"p1"}, "EXTRACT(MONTH FROM <p1>)")
	b.rewriter.RegisterFunction("DAY", []string{"p1"}, "EXTRACT(DAY FROM <p1>)")
	b.rewriter.RegisterFunction("HOUR", []string{"p1"}, "EXTRACT(HOUR FROM <p1>)")
	b.rewriter.RegisterFunction("MINUTE", []string{"p1"}, "EXTRACT(MINUTE FROM <p1>)")

	return firebird{base: b, embedded: embedded}
}

func (f firebird) ToDB(v any, ft registry.HostType, compressIfBlob bool) (any, error) {
	return toDB(v, ft, compressIfBlob)
}

func (f firebird) FromDB(v any, ft registry.HostType) (any, error) {
	return fromDB(v, ft)
}

func (f firebird) DriverName() string { return "firebirdsql" }

func (f firebird) BuildDSN(cfg ConnConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	if f.embedded {
		return cfg.DbName // a local .fdb path; no network endpoint involved
	}
	return fmt.Sprintf("%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DbName)
}

type firebirdServerDialect struct{ firebird }

func newFirebirdServer() Translator {
	return firebirdServerDialect{firebird: newFirebirdBase(FirebirdServer, false)}
}

type firebirdEmbeddedDialect struct{ firebird }

func newFirebirdEmbedded() Translator {
	return firebirdEmbeddedDialect{firebird: newFirebirdBase(FirebirdEmbedded, true)}
}

package dialect

import (
	"fmt"

	"github.com/entitymapper/entitymapper/registry"
)

// tsql is shared by MsSql and AzureSql: both speak T-SQL, they differ only
// in driver wiring (Azure SQL still rides the same "sqlserver" wire
// protocol via go-mssqldb, just against a different endpoint shape).
type tsql struct {
	base
}

func newTSQL(kind Kind) tsql {
	b := newBase(kind)
	b.commands[SelectTop] = "SELECT TOP #COUNT# #FIELDS# FROM #TABLENAME#"
	b.quote = func(s string) string { return "[" + s + "]" }

	b.rewriter.RegisterPlaceholder("TODAY", "CAST(GETDATE() AS DATE)")
	b.rewriter.RegisterPlaceholder("YESTERDAY", "CAST(DATEADD(day, -1, GETDATE()) AS DATE)")
	b.rewriter.RegisterPlaceholder("TOMORROW", "CAST(DATEADD(day, 1, GETDATE()) AS DATE)")
	b.rewriter.RegisterPlaceholder("PASTMONTH", "DATEADD(month, -1, GETDATE())")
	b.rewriter.RegisterPlaceholder("PASTYEAR", "DATEADD(year, -1, GETDATE())")
	b.rewriter.RegisterPlaceholder("FOLLOWMONTH", "DATEADD(month, 1, GETDATE())")
	b.rewriter.RegisterPlaceholder("FOLLOWYEAR", "DATEADD(year, 1, GETDATE())")
	b.rewriter.RegisterPlaceholder("EMPTYGUID", "'00000000-0000-0000-0000-000000000000'")
	b.rewriter.RegisterFunction("YEAR", []string{"p1"}, "YEAR(<p1>)")
	b.rewriter.RegisterFunction("MONTH", []string{"p1"}, "MONTH(<p1>)")
	b.rewriter.RegisterFunction("DAY", []string{"p1"}, "DAY(<p1>)")
	b.rewriter.RegisterFunction("HOUR", []string{"p1"}, "DATEPART(HOUR, <p1>)")
	b.rewriter.RegisterFunction("MINUTE", []string{"p1"}, "DATEPART(MINUTE, <p1>)")

	return tsql{base: b}
}

func (t tsql) ToDB(v any, ft registry.HostType, compressIfBlob bool) (any, error) {
	return toDB(v, ft, compressIfBlob)
}

func (t tsql) FromDB(v any, ft registry.HostType) (any, error) {
	return fromDB(v, ft)
}

func (t tsql) DriverName() string { return "sqlserver" }

func (t tsql) BuildDSN(cfg ConnConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DbName)
}

type msSqlDialect struct{ tsql }

func newMsSql() Translator { return msSqlDialect{tsql: newTSQL(MsSql)} }

type azureSqlDialect struct{ tsql }

func newAzureSql() Translator { return azureSqlDialect{tsql: newTSQL(AzureSql)} }

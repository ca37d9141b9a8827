package dialect

import (
	"fmt"
	"strings"

	"github.com/entitymapper/entitymapper/registry"
)

// base holds a full set of command templates plus field-type definitions,
// and implements every Translator method except ToDB/FromDB/DriverName/
// BuildDSN, which are dialect-specific. Concrete dialects embed base and
// override individual map entries in their constructor.
type base struct {
	kind     Kind
	commands map[CommandKind]string
	fields   map[registry.HostType]string
	rewriter *Rewriter
	quote    func(string) string
}

func defaultCommands() map[CommandKind]string {
	return map[CommandKind]string{
		DropTable:   "DROP TABLE #TABLENAME#",
		CreateTable: "CREATE TABLE #TABLENAME# ( #FIELDS# )",
		ExistTable:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = '#TABLENAME#'",

		DropView:   "DROP VIEW #TABLENAME#",
		CreateView: "CREATE VIEW #TABLENAME# AS #QUERY#",
		ExistView:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.VIEWS WHERE TABLE_NAME = '#TABLENAME#'",

		DropIndex:   "DROP INDEX #NAME# ON #TABLENAME#",
		CreateIndex: "CREATE #FIELDOPTIONS# INDEX #NAME# ON #TABLENAME# ( #FIELDS# )",
		ExistIndex:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.STATISTICS WHERE TABLE_NAME = '#TABLENAME#' AND INDEX_NAME = '#NAME#'",

		DropTrigger:   "DROP TRIGGER #NAME#",
		CreateTrigger: "CREATE TRIGGER #NAME# #EVENT# ON #TABLENAME# #CODE#",
		ExistTrigger:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TRIGGERS WHERE TRIGGER_NAME = '#NAME#'",
		EnableTrigger:  "ENABLE TRIGGER #NAME# ON #TABLENAME#",
		DisableTrigger: "DISABLE TRIGGER #NAME# ON #TABLENAME#",

		DropProcedure:   "DROP PROCEDURE #NAME#",
		CreateProcedure: "CREATE PROCEDURE #NAME# #CODE#",
		ExistProcedure:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_NAME = '#NAME#'",

		DropConstraint:   "ALTER TABLE #TABLENAME# DROP CONSTRAINT #NAME#",
		CreateConstraint: "ALTER TABLE #TABLENAME# ADD CONSTRAINT #NAME# #CODE#",
		ExistConstraint:  "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS WHERE CONSTRAINT_NAME = '#NAME#'",

		DropField:        "ALTER TABLE #TABLENAME# DROP COLUMN #NAME#",
		CreateField:       "ALTER TABLE #TABLENAME# ADD #NAME# #FIELDOPTIONS#",
		AlterFieldLength:  "ALTER TABLE #TABLENAME# ALTER COLUMN #NAME# #FIELDOPTIONS#",
		ExistField:        "SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = '#TABLENAME#' AND COLUMN_NAME = '#NAME#'",

		SelectFull:       "SELECT #FIELDS# FROM #TABLENAME#",
		SelectTop:        "SELECT #FIELDS# FROM #TABLENAME#",
		SelectByKey:      "SELECT #FIELDS# FROM #TABLENAME# WHERE #FIELDNAMEKEY# = @p0",
		SelectCount:      "SELECT COUNT(#FIELDS#) FROM #TABLENAME#",
		SelectSum:        "SELECT SUM(#FIELDS#) FROM #TABLENAME#",
		SelectExistByKey: "SELECT COUNT(*) FROM #TABLENAME# WHERE #FIELDNAMEKEY# = @p0",
		LoadSingleValue:  "SELECT #FIELDS# FROM #TABLENAME# WHERE #FIELDNAMEKEY# = @p0",

		Insert: "INSERT INTO #TABLENAME# ( #FIELDS# ) VALUES ( #VALUES# )",
		Update: "UPDATE #TABLENAME# SET #PAIRS# WHERE #FIELDNAMEKEY# = @v0",
		Delete: "DELETE FROM #TABLENAME# WHERE #FIELDNAMEKEY# = @v0",

		TriggerBeforeInsert: "CREATE TRIGGER #NAME# BEFORE INSERT ON #TABLENAME# FOR EACH ROW #CODE#",
		TriggerBeforeUpdate: "CREATE TRIGGER #NAME# BEFORE UPDATE ON #TABLENAME# FOR EACH ROW #CODE#",

		BeforeAlterSchema: "",
		AfterAlterSchema:  "",
	}
}

func defaultFieldDefs() map[registry.HostType]string {
	return map[registry.HostType]string{
		registry.HostInt8:     "SMALLINT",
		registry.HostInt16:    "SMALLINT",
		registry.HostInt32:    "INTEGER",
		registry.HostInt64:    "BIGINT",
		registry.HostFloat32:  "REAL",
		registry.HostFloat64:  "DOUBLE PRECISION",
		registry.HostDecimal:  "DECIMAL(18,4)",
		registry.HostBool:     "BOOLEAN",
		registry.HostString:   "VARCHAR(#SIZE#)",
		registry.HostBytes:    "VARBINARY(#SIZE#)",
		registry.HostImage:    "VARBINARY(MAX)",
		registry.HostGUID:     "CHAR(36)",
		registry.HostDateTime: "TIMESTAMP",
		registry.HostTypeName: "VARCHAR(#SIZE#)",
		registry.HostEnum:     "INTEGER",
		registry.HostObject:   "VARBINARY(MAX)",
	}
}

func newBase(kind Kind) base {
	return base{
		kind:     kind,
		commands: defaultCommands(),
		fields:   defaultFieldDefs(),
		rewriter: NewRewriter(),
		quote:    func(s string) string { return `"` + s + `"` },
	}
}

func (b base) Kind() Kind { return b.kind }

func (b base) Command(c CommandKind) string { return b.commands[c] }

func (b base) FieldDef(h registry.HostType) string { return b.fields[h] }

func (b base) TriggerEvent(e TriggerEvent) string {
	switch e {
	case EventBeforeInsert:
		return "BEFORE INSERT"
	case EventBeforeUpdate:
		return "BEFORE UPDATE"
	case EventBeforeDelete:
		return "BEFORE DELETE"
	case EventAfterInsert:
		return "AFTER INSERT"
	case EventAfterUpdate:
		return "AFTER UPDATE"
	case EventAfterDelete:
		return "AFTER DELETE"
	default:
		return ""
	}
}

func (b base) QuoteIdentifier(name string) string { return b.quote(name) }

// Placeholder renders the dialect-native positional bind parameter.
// MsSql/AzureSql name parameters (@p0, @p1, …); PostgreSql numbers them
// ($1, $2, …); Firebird's driver accepts bare positional "?" like the
// builder's own source placeholders, so no rewrite is needed there.
func (b base) Placeholder(n int) string {
	switch b.kind {
	case MsSql, AzureSql:
		return fmt.Sprintf("@p%d", n)
	case PostgreSql:
		return fmt.Sprintf("$%d", n+1)
	default:
		return "?"
	}
}

func (b base) Rewrite(sql string) string { return b.rewriter.Rewrite(sql) }

// Expand substitutes #TOKEN# placeholders in tpl from params. Unknown
// tokens are left untouched so command templates can be composed in
// stages (e.g. the schema engine fills #TABLENAME# first, the query
// builder fills #FIELDS# later).
func Expand(tpl string, params map[string]string) string {
	out := tpl
	for key, val := range params {
		out = strings.ReplaceAll(out, "#"+key+"#", val)
	}
	return out
}

// sizeToken renders a FieldDesc's MaxLength the way #SIZE# expects: the
// literal word MAX for an unbounded ("memo") field.
func sizeToken(maxLength int) string {
	if maxLength < 0 {
		return "MAX"
	}
	return fmt.Sprintf("%d", maxLength)
}

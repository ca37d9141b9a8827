// Package dialect is the dialect translator of §4.2: command templates,
// trigger-event keywords, per-host-type field definitions, value
// marshalling (to_db/from_db) and the portable function-snippet rewriter.
// Every supported SQL variant (Microsoft SQL, Azure SQL, PostgreSQL,
// Firebird server, Firebird embedded) is one Dialect value; adding a new
// one is a new Kind plus a command-template override set, never a change
// to any caller.
package dialect

import "github.com/entitymapper/entitymapper/registry"

// Kind identifies one of the five supported SQL dialects.
type Kind int

const (
	MsSql Kind = iota
	AzureSql
	PostgreSql
	FirebirdServer
	FirebirdEmbedded
)

func (k Kind) String() string {
	switch k {
	case MsSql:
		return "mssql"
	case AzureSql:
		return "azuresql"
	case PostgreSql:
		return "postgres"
	case FirebirdServer:
		return "firebird-server"
	case FirebirdEmbedded:
		return "firebird-embedded"
	default:
		return "unknown"
	}
}

// CommandKind names one template the translator can produce. Placeholders
// embedded in a template are uppercase tokens delimited by '#', e.g.
// #TABLENAME#, #FIELDS#, #FIELDNAMEKEY#, #NAME#, #SIZE#, #BLOCKSIZE#,
// #COUNT#, #FIELDOPTIONS#, #PAIRS#, #VALUES#, #QUERY#, #EVENT#,
// #EVENTCODE#, #CODE#.
type CommandKind int

const (
	DropTable CommandKind = iota
	CreateTable
	ExistTable

	DropView
	CreateView
	ExistView

	DropIndex
	CreateIndex
	ExistIndex

	DropTrigger
	CreateTrigger
	ExistTrigger
	EnableTrigger
	DisableTrigger

	DropProcedure
	CreateProcedure
	ExistProcedure

	DropConstraint
	CreateConstraint
	ExistConstraint

	DropField
	CreateField
	AlterFieldLength
	ExistField

	SelectFull
	SelectTop
	SelectByKey
	SelectCount
	SelectSum
	SelectExistByKey
	LoadSingleValue

	Insert
	Update
	Delete

	TriggerBeforeInsert
	TriggerBeforeUpdate

	BeforeAlterSchema
	AfterAlterSchema
)

// TriggerEvent names one of the events a BEFORE/AFTER trigger fires on.
type TriggerEvent int

const (
	EventBeforeInsert TriggerEvent = iota
	EventBeforeUpdate
	EventBeforeDelete
	EventAfterInsert
	EventAfterUpdate
	EventAfterDelete
)

// Translator is the full dialect-translator capability set of §4.2.
type Translator interface {
	Kind() Kind
	Command(CommandKind) string
	FieldDef(registry.HostType) string
	TriggerEvent(TriggerEvent) string
	QuoteIdentifier(string) string
	// Placeholder renders the n-th (0-based) bind parameter in this
	// dialect's native positional syntax, the target of the connection
	// runtime's "?" rewrite (§4.5).
	Placeholder(n int) string
	ToDB(v any, ft registry.HostType, compressIfBlob bool) (any, error)
	FromDB(v any, ft registry.HostType) (any, error)
	Rewrite(sql string) string
	DriverName() string
	BuildDSN(cfg ConnConfig) string
}

// ConnConfig is the subset of connection parameters needed to build a DSN.
// It deliberately mirrors the teacher's driver.Config/adapter.Config shape
// (DbName/User/Password/Host/Port).
type ConnConfig struct {
	DbName           string
	User             string
	Password         string
	Host             string
	Port             int
	ConnectionString string // when set, used verbatim instead of the built DSN
}

// For resolves the Translator implementation for kind.
func For(kind Kind) Translator {
	switch kind {
	case MsSql:
		return newMsSql()
	case AzureSql:
		return newAzureSql()
	case PostgreSql:
		return newPostgres()
	case FirebirdServer:
		return newFirebirdServer()
	case FirebirdEmbedded:
		return newFirebirdEmbedded()
	default:
		panic("dialect: unexpected Kind")
	}
}

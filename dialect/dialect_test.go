package dialect

import (
	"testing"
	"time"

	"github.com/entitymapper/entitymapper/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForReturnsOneTranslatorPerKind(t *testing.T) {
	kinds := []Kind{MsSql, AzureSql, PostgreSql, FirebirdServer, FirebirdEmbedded}
	for _, k := range kinds {
		tr := For(k)
		assert.Equal(t, k, tr.Kind())
	}
}

func TestForPanicsOnUnknownKind(t *testing.T) {
	assert.Panics(t, func() { For(Kind(99)) })
}

func TestPlaceholderPerDialect(t *testing.T) {
	assert.Equal(t, "@p0", For(MsSql).Placeholder(0))
	assert.Equal(t, "@p3", For(AzureSql).Placeholder(3))
	assert.Equal(t, "$1", For(PostgreSql).Placeholder(0))
	assert.Equal(t, "$4", For(PostgreSql).Placeholder(3))
	assert.Equal(t, "?", For(FirebirdServer).Placeholder(0))
}

func TestQuoteIdentifierPerDialect(t *testing.T) {
	assert.Equal(t, "[Foo]", For(MsSql).QuoteIdentifier("Foo"))
	assert.Equal(t, `"Foo"`, For(PostgreSql).QuoteIdentifier("Foo"))
	assert.Equal(t, `"Foo"`, For(FirebirdServer).QuoteIdentifier("Foo"))
}

func TestExpandSubstitutesKnownTokensOnly(t *testing.T) {
	out := Expand("CREATE TABLE #TABLENAME# ( #FIELDS# )", map[string]string{"TABLENAME": "accounts"})
	assert.Equal(t, "CREATE TABLE accounts ( #FIELDS# )", out)
}

func TestToDBEmptyGUIDBecomesNull(t *testing.T) {
	tr := For(PostgreSql)
	v, err := tr.ToDB(uuid.Nil, registry.HostGUID, false)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestToDBNonEmptyGUIDBecomesString(t *testing.T) {
	tr := For(PostgreSql)
	id := uuid.New()
	v, err := tr.ToDB(id, registry.HostGUID, false)
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestFromDBNullBecomesTypeDefault(t *testing.T) {
	tr := For(MsSql)

	v, err := tr.FromDB(nil, registry.HostGUID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, v)

	v, err = tr.FromDB(nil, registry.HostString)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	v, err = tr.FromDB(nil, registry.HostBool)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestFromDBBoolFromTruthyToken(t *testing.T) {
	tr := For(MsSql)
	for _, s := range []string{"Y", "y", "J", "j", "1"} {
		v, err := tr.FromDB(s, registry.HostBool)
		require.NoError(t, err)
		assert.True(t, v.(bool), "expected %q to be truthy", s)
	}
	v, err := tr.FromDB("N", registry.HostBool)
	require.NoError(t, err)
	assert.False(t, v.(bool))
}

func TestToDBAndFromDBGUIDRoundTrip(t *testing.T) {
	tr := For(PostgreSql)
	id := uuid.New()
	stored, err := tr.ToDB(id, registry.HostGUID, false)
	require.NoError(t, err)
	back, err := tr.FromDB(stored, registry.HostGUID)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestToDBEnumConvertsToInt32(t *testing.T) {
	tr := For(MsSql)
	v, err := tr.ToDB(int(3), registry.HostEnum, false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
}

func TestFromDBDateTimeRejectsWrongType(t *testing.T) {
	tr := For(MsSql)
	_, err := tr.FromDB("not-a-time", registry.HostDateTime)
	assert.Error(t, err)
}

func TestFromDBDateTimePassesThrough(t *testing.T) {
	tr := For(MsSql)
	now := time.Now()
	v, err := tr.FromDB(now, registry.HostDateTime)
	require.NoError(t, err)
	assert.Equal(t, now, v)
}

func TestRewriterExpandsPlaceholderToFixedPoint(t *testing.T) {
	r := NewRewriter()
	r.RegisterPlaceholder("TODAY", "CURRENT_DATE")
	assert.Equal(t, "SELECT CURRENT_DATE", r.Rewrite("SELECT #TODAY#"))
}

func TestRewriterExpandsFunctionCallWithArgs(t *testing.T) {
	r := NewRewriter()
	r.RegisterFunction("YEAR", []string{"p1"}, "EXTRACT(YEAR FROM <p1>)")
	out := r.Rewrite("SELECT YEAR(created_at) FROM t")
	assert.Equal(t, "SELECT EXTRACT(YEAR FROM created_at) FROM t", out)
}

func TestRewriterDoesNotMatchSubstringIdentifier(t *testing.T) {
	r := NewRewriter()
	r.RegisterFunction("YEAR", []string{"p1"}, "EXTRACT(YEAR FROM <p1>)")
	out := r.Rewrite("SELECT MYYEAR(created_at) FROM t")
	assert.Equal(t, "SELECT MYYEAR(created_at) FROM t", out)
}

func TestRewriterHandlesNestedCalls(t *testing.T) {
	r := NewRewriter()
	r.RegisterFunction("YEAR", []string{"p1"}, "EXTRACT(YEAR FROM <p1>)")
	r.RegisterFunction("COALESCEX", []string{"p1", "p2"}, "COALESCE(<p1>, <p2>)")
	out := r.Rewrite("SELECT YEAR(COALESCEX(a, b)) FROM t")
	assert.Equal(t, "SELECT EXTRACT(YEAR FROM COALESCE(a, b)) FROM t", out)
}

func TestBuildDSNPerDialect(t *testing.T) {
	cfg := ConnConfig{DbName: "db", User: "u", Password: "p", Host: "h", Port: 5432}
	assert.Contains(t, For(PostgreSql).BuildDSN(cfg), "postgres://u:p@h:5432/db")
	assert.Contains(t, For(MsSql).BuildDSN(cfg), "sqlserver://u:p@h:5432?database=db")

	cfg.ConnectionString = "explicit-dsn"
	assert.Equal(t, "explicit-dsn", For(PostgreSql).BuildDSN(cfg))
}

func TestFirebirdEmbeddedDSNIsJustPath(t *testing.T) {
	cfg := ConnConfig{DbName: "/data/mydb.fdb"}
	assert.Equal(t, "/data/mydb.fdb", For(FirebirdEmbedded).BuildDSN(cfg))
}

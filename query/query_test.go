package query

import (
	"reflect"
	"testing"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountEntity struct{}

func accountDesc(t *testing.T) *registry.TypeDesc {
	t.Helper()
	decl := registry.Declaration{
		Kind:    registry.Table,
		Name:    "Accounts",
		ID:      1,
		Version: 1,
		Fields: []registry.FieldDesc{
			registry.Field("Key", registry.HostGUID, registry.RolePrimaryKey),
			registry.Field("Created", registry.HostDateTime, registry.RoleTimestampCreated),
			registry.Field("Changed", registry.HostDateTime, registry.RoleTimestampChanged),
			registry.Field("Name", registry.HostString, registry.RoleNone),
			registry.Field("Balance", registry.HostDecimal, registry.RoleNone),
		},
	}
	desc, err := registry.Register(reflect.TypeOf(accountEntity{}), decl, accountEntity{})
	require.NoError(t, err)
	return desc
}

func viewDesc(t *testing.T) *registry.TypeDesc {
	t.Helper()
	type accountSummaryEntity struct{}
	decl := registry.Declaration{
		Kind:          registry.View,
		Name:          "AccountSummaries",
		ID:            2,
		Version:       1,
		MasterType:    "Accounts",
		QueryTemplate: "SELECT #FIELDS# FROM Accounts",
		Fields: []registry.FieldDesc{
			registry.Field("Key", registry.HostGUID, registry.RolePrimaryKey),
			registry.Field("Name", registry.HostString, registry.RoleNone),
		},
	}
	desc, err := registry.Register(reflect.TypeOf(accountSummaryEntity{}), decl, accountSummaryEntity{})
	require.NoError(t, err)
	return desc
}

func postgres() dialect.Translator { return dialect.For(dialect.PostgreSql) }

func TestSelectDefaultFieldsAllDeclared(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").Select().Build()
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.Equal(t, `SELECT Key, Created, Changed, Name, Balance FROM "Accounts"`, sqlText)
}

func TestSelectExplicitFieldList(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").Select("Name").Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT Name FROM "Accounts"`, sqlText)
}

func TestSelectTopUsesDialectTemplate(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").Select("Name").Top(5).Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT Name FROM "Accounts" LIMIT 5`, sqlText)
}

func TestTopSetTwiceFails(t *testing.T) {
	desc := accountDesc(t)
	_, _, err := New(postgres(), desc, "").Select().Top(1).Top(2).Build()
	assert.Error(t, err)
}

func TestTopOnNonSelectFails(t *testing.T) {
	desc := accountDesc(t)
	_, _, err := New(postgres(), desc, "").Insert().Top(1).Build()
	assert.Error(t, err)
}

func TestWhereEqualityShorthand(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").Select().Where("Name", "acme").Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT Key, Created, Changed, Name, Balance FROM "Accounts" WHERE Name = ?`, sqlText)
	assert.Equal(t, []any{"acme"}, params)
}

func TestWhereExplicitOperator(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").Select().Where("Balance", ">", 100).Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, `Balance > ?`)
	assert.Equal(t, []any{100}, params)
}

func TestWhereChainedAndOr(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").
		Select().
		Where("Name", "acme").
		And("Balance", ">", 0).
		Or("Balance", "<", -100).
		Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT Key, Created, Changed, Name, Balance FROM "Accounts" WHERE Name = ? AND Balance > ? OR Balance < ?`, sqlText)
	assert.Equal(t, []any{"acme", 0, -100}, params)
}

func TestWhereNestedGroup(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").
		Select().
		Where("Name", "acme").
		AndGroup(func(c *Cond) {
			c.Where("Balance", ">", 0).Or("Balance", "<", -100)
		}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, `SELECT Key, Created, Changed, Name, Balance FROM "Accounts" WHERE Name = ? AND (Balance > ? OR Balance < ?)`, sqlText)
}

func TestSecondWhereWithoutConnectorFails(t *testing.T) {
	c := &Cond{}
	c.Where("a", 1)
	c.Where("b", 2)
	assert.Error(t, c.err)
}

func TestAliasQualifiesBareFieldsOnly(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "a").Select().Where("a.Name", "x").And("Balance", 1).Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, `a.Name = ?`)
	assert.Contains(t, sqlText, `a.Balance = ?`)
}

func TestOrderByAndThenBy(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").Select().OrderDescBy("Balance").ThenBy("Name").Build()
	require.NoError(t, err)
	want := ` ORDER BY Balance DESC, Name`
	assert.Equal(t, want, sqlText[len(sqlText)-len(want):])
}

func TestThenByWithoutOrderByFails(t *testing.T) {
	desc := accountDesc(t)
	_, _, err := New(postgres(), desc, "").Select().ThenBy("Name").Build()
	assert.Error(t, err)
}

func TestGroupOnAndThenGroupOn(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").Select().GroupOn("Name").ThenGroupOn("Balance").Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, `GROUP BY Name, Balance`)
}

func TestInsertBuildsPlaceholdersAndParams(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").Insert().Set("Name", "acme").Set("Balance", 10).Build()
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "Accounts" ( Name, Balance ) VALUES ( ?, ? )`, sqlText)
	assert.Equal(t, []any{"acme", 10}, params)
}

func TestInsertWithNoFieldsFails(t *testing.T) {
	desc := accountDesc(t)
	_, _, err := New(postgres(), desc, "").Insert().Build()
	assert.Error(t, err)
}

func TestUpdateWithAliasOnPostgresHasNoFromClause(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "a").Update().Set("Name", "x").Where("Key", "k").Build()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Accounts" a SET Name = ? WHERE a.Key = ?`, sqlText)
}

func TestUpdateWithAliasOnMsSqlUsesFromClause(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(dialect.For(dialect.MsSql), desc, "a").Update().Set("Name", "x").Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, "UPDATE a SET")
	assert.Contains(t, sqlText, "FROM [Accounts] a")
}

func TestDeleteBuildsWhereClause(t *testing.T) {
	desc := accountDesc(t)
	sqlText, params, err := New(postgres(), desc, "").Delete().Where("Key", "k").Build()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "Accounts" WHERE Key = ?`, sqlText)
	assert.Equal(t, []any{"k"}, params)
}

func TestViewRejectsInsertUpdateDelete(t *testing.T) {
	desc := viewDesc(t)
	assert.Error(t, New(postgres(), desc, "").Insert().err)
	assert.Error(t, New(postgres(), desc, "").Update().err)
	assert.Error(t, New(postgres(), desc, "").Delete().err)
}

func TestCountAndSumRequireExactlyOneField(t *testing.T) {
	desc := accountDesc(t)
	sqlText, _, err := New(postgres(), desc, "").Count("Key").Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, "COUNT")

	sqlText, _, err = New(postgres(), desc, "").Sum("Balance").Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, "SUM")
}

func TestJoinRendersOnClause(t *testing.T) {
	desc := accountDesc(t)
	target := viewDesc(t)
	sqlText, _, err := New(postgres(), desc, "a").
		Select().
		Join(InnerJoin, "b", target, FieldPair{Left: "a.Key", Right: "b.Key"}).
		Build()
	require.NoError(t, err)
	assert.Contains(t, sqlText, `INNER JOIN "AccountSummaries" b ON a.Key = b.Key`)
}

func TestBuildWithNoStatementTypeFails(t *testing.T) {
	desc := accountDesc(t)
	_, _, err := New(postgres(), desc, "").Build()
	assert.Error(t, err)
}

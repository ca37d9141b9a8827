// Package query is the fluent query builder of §4.4: composable
// construction of SELECT/INSERT/UPDATE/DELETE with joins, nested boolean
// WHERE groups, ordering, grouping and parameter capture, emitting
// dialect-specific SQL with positional '?' placeholders for the connection
// runtime to renumber at bind time.
package query

import (
	"strconv"
	"strings"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/registry"
)

// Type is the kind of statement a Builder assembles; assigned by whichever
// of Select/Insert/Update/Delete is called first.
type Type int

const (
	Undefined Type = iota
	Select
	Insert
	Update
	Delete
	CountStmt
	SumStmt
)

// JoinMode is the SQL join kind.
type JoinMode int

const (
	InnerJoin JoinMode = iota
	LeftJoin
	RightJoin
	FullJoin
)

func (m JoinMode) keyword() string {
	switch m {
	case LeftJoin:
		return "LEFT JOIN"
	case RightJoin:
		return "RIGHT JOIN"
	case FullJoin:
		return "FULL JOIN"
	default:
		return "INNER JOIN"
	}
}

// FieldPair is a join's ON condition expressed as left.field = right.field.
type FieldPair struct {
	Left  string
	Right string
}

// Join describes one joined entity.
type Join struct {
	Mode   JoinMode
	Alias  string
	Target *registry.TypeDesc
	On     []FieldPair
	Raw    string // used instead of On when non-empty
}

// OrderMode is the sort direction of one ORDER BY element.
type OrderMode int

const (
	None OrderMode = iota
	Ascending
	Descending
)

type sortElem struct {
	field string
	mode  OrderMode
}

type groupElem struct {
	field string
}

// Builder is the stateful, per-statement query composer of §4.4. It is
// bound to one entity type and an optional table alias; construct one with
// New and call exactly one of Select/Insert/Update/Delete before emitting
// with Build.
type Builder struct {
	translator dialect.Translator
	desc       *registry.TypeDesc
	alias      string

	queryType Type

	fields []string // selected (Select) or written (Insert/Update) fields
	top    int
	topSet bool

	setFields []string
	setValues []any

	joins []Join

	where *Cond
	group []groupElem
	sort  []sortElem

	err error
}

// New returns a Builder bound to desc, emitting SQL for translator. alias
// may be empty.
func New(translator dialect.Translator, desc *registry.TypeDesc, alias string) *Builder {
	return &Builder{translator: translator, desc: desc, alias: alias, where: &Cond{}}
}

func (b *Builder) fail(op, format string, args ...any) *Builder {
	if b.err == nil {
		b.err = errs.Queryf(op, format, args...)
	}
	return b
}

func (b *Builder) setType(t Type) bool {
	if b.err != nil {
		return false
	}
	if b.queryType != Undefined && b.queryType != t {
		b.fail("query.Builder", "statement type already set")
		return false
	}
	if b.queryType == t {
		b.fail("query.Builder", "statement type set twice")
		return false
	}
	b.queryType = t
	return true
}

// Select assigns this builder as a SELECT and records the projected field
// list (empty means "all declared fields").
func (b *Builder) Select(fields ...string) *Builder {
	if !b.setType(Select) {
		return b
	}
	b.fields = fields
	return b
}

// Top caps the result to n records. Select only; may be set once.
func (b *Builder) Top(n int) *Builder {
	if b.err != nil {
		return b
	}
	if b.queryType != Select {
		return b.fail("query.Builder", "Top is only valid on a Select")
	}
	if b.topSet {
		return b.fail("query.Builder", "Top already set")
	}
	b.top = n
	b.topSet = true
	return b
}

// Insert assigns this builder as an INSERT. Views reject Insert (§4.4).
func (b *Builder) Insert() *Builder {
	if b.desc.Kind == registry.View {
		return b.fail("query.Builder", "view %q rejects Insert", b.desc.Name)
	}
	b.setType(Insert)
	return b
}

// Update assigns this builder as an UPDATE. Views reject Update.
func (b *Builder) Update() *Builder {
	if b.desc.Kind == registry.View {
		return b.fail("query.Builder", "view %q rejects Update", b.desc.Name)
	}
	b.setType(Update)
	return b
}

// Delete assigns this builder as a DELETE. Views reject Delete.
func (b *Builder) Delete() *Builder {
	if b.desc.Kind == registry.View {
		return b.fail("query.Builder", "view %q rejects Delete", b.desc.Name)
	}
	b.setType(Delete)
	return b
}

// Count assigns this builder as a row-count query over field (§4.5's
// count/sum select shape), rendered from the dialect's SelectCount
// template.
func (b *Builder) Count(field string) *Builder {
	if !b.setType(CountStmt) {
		return b
	}
	b.fields = []string{field}
	return b
}

// Sum assigns this builder as a column-sum query over field, rendered from
// the dialect's SelectSum template.
func (b *Builder) Sum(field string) *Builder {
	if !b.setType(SumStmt) {
		return b
	}
	b.fields = []string{field}
	return b
}

// Set records one column = value pair for Insert/Update, preserving call
// order for both the field list and the captured parameters.
func (b *Builder) Set(field string, value any) *Builder {
	if b.err != nil {
		return b
	}
	if b.queryType != Insert && b.queryType != Update {
		return b.fail("query.Builder", "Set is only valid on Insert/Update")
	}
	b.setFields = append(b.setFields, field)
	b.setValues = append(b.setValues, value)
	return b
}

// Join adds a join on explicit field pairs.
func (b *Builder) Join(mode JoinMode, alias string, target *registry.TypeDesc, on ...FieldPair) *Builder {
	b.joins = append(b.joins, Join{Mode: mode, Alias: alias, Target: target, On: on})
	return b
}

// JoinRaw adds a join whose ON clause is the raw expression supplied
// verbatim (for conditions the field-pair form can't express).
func (b *Builder) JoinRaw(mode JoinMode, alias string, target *registry.TypeDesc, rawOn string) *Builder {
	b.joins = append(b.joins, Join{Mode: mode, Alias: alias, Target: target, Raw: rawOn})
	return b
}

// Where starts the WHERE clause; a second Where without a connector
// (And/Or/AndNot/OrNot or a group) in between is an error.
func (b *Builder) Where(field string, args ...any) *Builder { b.where.Where(field, args...); return b }
func (b *Builder) And(field string, args ...any) *Builder   { b.where.And(field, args...); return b }
func (b *Builder) Or(field string, args ...any) *Builder    { b.where.Or(field, args...); return b }
func (b *Builder) AndNot(field string, args ...any) *Builder {
	b.where.AndNot(field, args...)
	return b
}
func (b *Builder) OrNot(field string, args ...any) *Builder { b.where.OrNot(field, args...); return b }

// AndGroup adds a parenthesized nested WHERE group joined with AND.
func (b *Builder) AndGroup(fn func(*Cond)) *Builder { b.where.AndGroup(fn); return b }

// OrGroup adds a parenthesized nested WHERE group joined with OR.
func (b *Builder) OrGroup(fn func(*Cond)) *Builder { b.where.OrGroup(fn); return b }

// OrderBy sets the primary ascending sort field. Select only.
func (b *Builder) OrderBy(field string) *Builder { return b.addSort(field, Ascending, false) }

// OrderDescBy sets the primary descending sort field. Select only.
func (b *Builder) OrderDescBy(field string) *Builder { return b.addSort(field, Descending, false) }

// ThenBy adds a secondary ascending sort field; must follow OrderBy/
// OrderDescBy/ThenBy/ThenDescBy.
func (b *Builder) ThenBy(field string) *Builder { return b.addSort(field, Ascending, true) }

// ThenDescBy adds a secondary descending sort field; must follow OrderBy/
// OrderDescBy/ThenBy/ThenDescBy.
func (b *Builder) ThenDescBy(field string) *Builder { return b.addSort(field, Descending, true) }

func (b *Builder) addSort(field string, mode OrderMode, chained bool) *Builder {
	if b.err != nil {
		return b
	}
	if chained && len(b.sort) == 0 {
		return b.fail("query.Builder", "ThenBy/ThenDescBy must follow OrderBy/OrderDescBy/ThenBy/ThenDescBy")
	}
	if !chained && len(b.sort) != 0 {
		return b.fail("query.Builder", "OrderBy/OrderDescBy must be the first sort element")
	}
	b.sort = append(b.sort, sortElem{field: field, mode: mode})
	return b
}

// GroupOn sets the primary GROUP BY field.
func (b *Builder) GroupOn(field string) *Builder { return b.addGroup(field, false) }

// ThenGroupOn adds a secondary GROUP BY field; must follow GroupOn/ThenGroupOn.
func (b *Builder) ThenGroupOn(field string) *Builder { return b.addGroup(field, true) }

func (b *Builder) addGroup(field string, chained bool) *Builder {
	if b.err != nil {
		return b
	}
	if chained && len(b.group) == 0 {
		return b.fail("query.Builder", "ThenGroupOn must follow GroupOn/ThenGroupOn")
	}
	if !chained && len(b.group) != 0 {
		return b.fail("query.Builder", "GroupOn must be the first group element")
	}
	b.group = append(b.group, groupElem{field: field})
	return b
}

// qualify prefixes field with the active alias unless it already contains a
// '.' (§4.4: "Field references containing a '.' are left untouched").
func (b *Builder) qualify(field string) string {
	if strings.Contains(field, ".") || b.alias == "" {
		return field
	}
	return b.alias + "." + field
}

// Build assembles the final (sql, parameters) pair, applying alias
// qualification and then the dialect's function-snippet rewriter, per the
// emission pipeline in §4.4.
func (b *Builder) Build() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.where.err != nil {
		return "", nil, b.where.err
	}

	switch b.queryType {
	case Select:
		return b.buildSelect()
	case Insert:
		return b.buildInsert()
	case Update:
		return b.buildUpdate()
	case Delete:
		return b.buildDelete()
	case CountStmt:
		return b.buildAggregate(dialect.SelectCount)
	case SumStmt:
		return b.buildAggregate(dialect.SelectSum)
	default:
		return "", nil, errs.Queryf("query.Builder.Build", "no statement type set")
	}
}

func (b *Builder) tableRef() string {
	name := b.translator.QuoteIdentifier(b.desc.Name)
	if b.alias != "" {
		return name + " " + b.alias
	}
	return name
}

func (b *Builder) fieldList() []string {
	if len(b.fields) > 0 {
		return b.fields
	}
	out := make([]string, 0, len(b.desc.Fields()))
	for _, f := range b.desc.Fields() {
		out = append(out, f.Name)
	}
	return out
}

func (b *Builder) renderSelectFields() string {
	names := b.fieldList()
	qualified := make([]string, len(names))
	for i, n := range names {
		qualified[i] = b.qualify(n)
	}
	return strings.Join(qualified, ", ")
}

func (b *Builder) renderJoins() (string, []any) {
	var sb strings.Builder
	var params []any
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j.Mode.keyword())
		sb.WriteString(" ")
		sb.WriteString(b.translator.QuoteIdentifier(j.Target.Name))
		if j.Alias != "" {
			sb.WriteString(" ")
			sb.WriteString(j.Alias)
		}
		sb.WriteString(" ON ")
		if j.Raw != "" {
			sb.WriteString(j.Raw)
		} else {
			conds := make([]string, len(j.On))
			for i, p := range j.On {
				conds[i] = p.Left + " = " + p.Right
			}
			sb.WriteString(strings.Join(conds, " AND "))
		}
	}
	return sb.String(), params
}

func connectorKeyword(c Connector) string {
	switch c {
	case ConnAnd:
		return "AND"
	case ConnOr:
		return "OR"
	case ConnAndNot:
		return "AND NOT"
	case ConnOrNot:
		return "OR NOT"
	default:
		return ""
	}
}

func (b *Builder) renderCond(c *Cond) (string, []any) {
	var sb strings.Builder
	var params []any
	for i, n := range c.nodes {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(connectorKeyword(n.connector))
			sb.WriteString(" ")
		}
		if n.group != nil {
			inner, innerParams := b.renderCond(n.group)
			sb.WriteString("(")
			sb.WriteString(inner)
			sb.WriteString(")")
			params = append(params, innerParams...)
			continue
		}
		sb.WriteString(b.qualify(n.field))
		sb.WriteString(" ")
		sb.WriteString(n.op)
		if n.hasValue {
			sb.WriteString(" ?")
			params = append(params, n.value)
		}
	}
	return sb.String(), params
}

func (b *Builder) renderGroupBy() string {
	if len(b.group) == 0 {
		return ""
	}
	names := make([]string, len(b.group))
	for i, g := range b.group {
		names[i] = b.qualify(g.field)
	}
	return " GROUP BY " + strings.Join(names, ", ")
}

func (b *Builder) renderOrderBy() string {
	if len(b.sort) == 0 {
		return ""
	}
	parts := make([]string, len(b.sort))
	for i, s := range b.sort {
		dir := ""
		if s.mode == Descending {
			dir = " DESC"
		}
		parts[i] = b.qualify(s.field) + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (b *Builder) buildSelect() (string, []any, error) {
	var sb strings.Builder
	var params []any

	if b.topSet {
		tpl := b.translator.Command(dialect.SelectTop)
		tpl = dialect.Expand(tpl, map[string]string{
			"COUNT":     strconv.Itoa(b.top),
			"FIELDS":    b.renderSelectFields(),
			"TABLENAME": b.tableRef(),
		})
		sb.WriteString(tpl)
	} else {
		tpl := b.translator.Command(dialect.SelectFull)
		tpl = dialect.Expand(tpl, map[string]string{
			"FIELDS":    b.renderSelectFields(),
			"TABLENAME": b.tableRef(),
		})
		sb.WriteString(tpl)
	}

	joinSQL, joinParams := b.renderJoins()
	sb.WriteString(joinSQL)
	params = append(params, joinParams...)

	if !b.where.Empty() {
		whereSQL, whereParams := b.renderCond(b.where)
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		params = append(params, whereParams...)
	}

	sb.WriteString(b.renderGroupBy())
	sb.WriteString(b.renderOrderBy())

	return b.translator.Rewrite(sb.String()), params, nil
}

// buildAggregate renders a Count/Sum statement from kind's dialect
// template (#FIELDS# holds the single aggregated field, qualified by the
// active alias), with the same WHERE support as buildSelect.
func (b *Builder) buildAggregate(kind dialect.CommandKind) (string, []any, error) {
	if len(b.fields) != 1 {
		return "", nil, errs.Queryf("query.Builder.Build", "count/sum requires exactly one field")
	}

	tpl := b.translator.Command(kind)
	tpl = dialect.Expand(tpl, map[string]string{
		"FIELDS":    b.qualify(b.fields[0]),
		"TABLENAME": b.tableRef(),
	})

	var sb strings.Builder
	sb.WriteString(tpl)
	var params []any
	if !b.where.Empty() {
		whereSQL, whereParams := b.renderCond(b.where)
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		params = append(params, whereParams...)
	}
	return b.translator.Rewrite(sb.String()), params, nil
}

func (b *Builder) buildInsert() (string, []any, error) {
	if len(b.setFields) == 0 {
		return "", nil, errs.Queryf("query.Builder.Build", "insert has no fields set")
	}
	placeholders := strings.Repeat("?, ", len(b.setFields))
	placeholders = strings.TrimSuffix(placeholders, ", ")

	tpl := b.translator.Command(dialect.Insert)
	tpl = dialect.Expand(tpl, map[string]string{
		"TABLENAME": b.translator.QuoteIdentifier(b.desc.Name),
		"FIELDS":    strings.Join(b.setFields, ", "),
		"VALUES":    placeholders,
	})
	return b.translator.Rewrite(tpl), append([]any{}, b.setValues...), nil
}

// buildUpdate honors the Microsoft-SQL alias tie-break of §4.4: with an
// alias, MsSql/AzureSql emit "UPDATE alias SET ... FROM table alias";
// every other dialect emits "UPDATE table alias SET ...".
func (b *Builder) buildUpdate() (string, []any, error) {
	if len(b.setFields) == 0 {
		return "", nil, errs.Queryf("query.Builder.Build", "update has no fields set")
	}

	pairs := make([]string, len(b.setFields))
	for i, f := range b.setFields {
		pairs[i] = f + " = ?"
	}
	setClause := strings.Join(pairs, ", ")
	params := append([]any{}, b.setValues...)

	table := b.translator.QuoteIdentifier(b.desc.Name)

	var sb strings.Builder
	kind := b.translator.Kind()
	if b.alias != "" && (kind == dialect.MsSql || kind == dialect.AzureSql) {
		sb.WriteString("UPDATE ")
		sb.WriteString(b.alias)
		sb.WriteString(" SET ")
		sb.WriteString(setClause)
		sb.WriteString(" FROM ")
		sb.WriteString(table)
		sb.WriteString(" ")
		sb.WriteString(b.alias)
	} else {
		sb.WriteString("UPDATE ")
		sb.WriteString(table)
		if b.alias != "" {
			sb.WriteString(" ")
			sb.WriteString(b.alias)
		}
		sb.WriteString(" SET ")
		sb.WriteString(setClause)
	}

	if !b.where.Empty() {
		whereSQL, whereParams := b.renderCond(b.where)
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		params = append(params, whereParams...)
	}

	return b.translator.Rewrite(sb.String()), params, nil
}

func (b *Builder) buildDelete() (string, []any, error) {
	var sb strings.Builder
	var params []any

	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.translator.QuoteIdentifier(b.desc.Name))
	if b.alias != "" {
		sb.WriteString(" ")
		sb.WriteString(b.alias)
	}

	if !b.where.Empty() {
		whereSQL, whereParams := b.renderCond(b.where)
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
		params = append(params, whereParams...)
	}

	return b.translator.Rewrite(sb.String()), params, nil
}

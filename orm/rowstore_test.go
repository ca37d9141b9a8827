package orm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// memTable is a tiny in-memory single-table store backing a fake
// database/sql driver, the same technique schema.NewDryRunDB uses to get a
// genuine *sql.DB without a live connection — but here the fake driver
// actually executes the deterministic SQL shapes orm's Connection issues
// (INSERT/UPDATE/DELETE/SELECT against one table) instead of only recording
// DDL, since Save/Delete/List round-trip real row data.
type memTable struct {
	mu   sync.Mutex
	rows []map[string]driver.Value
}

func newMemDB(t *testing.T) (*sql.DB, *memTable) {
	t.Helper()
	tbl := &memTable{}
	name := fmt.Sprintf("entitymapper-mem-%p", tbl)
	sql.Register(name, &memDriver{tbl: tbl})
	db, err := sql.Open(name, "mem")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, tbl
}

type memDriver struct{ tbl *memTable }

func (d *memDriver) Open(name string) (driver.Conn, error) { return &memConn{tbl: d.tbl}, nil }

type memConn struct{ tbl *memTable }

func (c *memConn) Prepare(query string) (driver.Stmt, error) {
	return &memStmt{tbl: c.tbl, query: strings.TrimSpace(query)}, nil
}
func (c *memConn) Close() error                 { return nil }
func (c *memConn) Begin() (driver.Tx, error)     { return c.tbl.begin(), nil }
func (c *memConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.tbl.begin(), nil
}

// memTx snapshots the table's rows at Begin; Rollback puts the snapshot back.
type memTx struct {
	tbl      *memTable
	snapshot []map[string]driver.Value
}

func (t *memTable) begin() memTx {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := make([]map[string]driver.Value, 0, len(t.rows))
	for _, row := range t.rows {
		cp := make(map[string]driver.Value, len(row))
		for k, v := range row {
			cp[k] = v
		}
		snap = append(snap, cp)
	}
	return memTx{tbl: t, snapshot: snap}
}

func (memTx) Commit() error { return nil }
func (tx memTx) Rollback() error {
	tx.tbl.mu.Lock()
	defer tx.tbl.mu.Unlock()
	tx.tbl.rows = tx.snapshot
	return nil
}

type memStmt struct {
	tbl   *memTable
	query string
}

func (s *memStmt) Close() error  { return nil }
func (s *memStmt) NumInput() int { return -1 }

func (s *memStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.tbl.exec(s.query, args)
}

func (s *memStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.tbl.query(s.query, args)
}

var (
	reInsert     = regexp.MustCompile(`^INSERT INTO "(\w+)" \( (.+) \) VALUES \( (.+) \)$`)
	reUpdate     = regexp.MustCompile(`^UPDATE "(\w+)" SET (.+) WHERE "(\w+)" = \$(\d+)$`)
	reDelete     = regexp.MustCompile(`^DELETE FROM "(\w+)" WHERE "(\w+)" = \$(\d+)$`)
	reSelect     = regexp.MustCompile(`^SELECT (.+?) FROM "(\w+)"(?: WHERE (.+?))?(?: ORDER BY (.+))?$`)
	reCountStar  = regexp.MustCompile(`^COUNT\(\*\)$`)
	reCountField = regexp.MustCompile(`^COUNT\("?(\w+)"?\)$`)
	reSumField   = regexp.MustCompile(`^SUM\("?(\w+)"?\)$`)
	reCond       = regexp.MustCompile(`^"?(\w+)"? (=|<>) \$(\d+)$`)
)

func (tbl *memTable) exec(query string, args []driver.Value) (driver.Result, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if m := reInsert.FindStringSubmatch(query); m != nil {
		cols := splitQuoted(m[2])
		row := make(map[string]driver.Value, len(cols))
		for i, c := range cols {
			row[c] = args[i]
		}
		tbl.rows = append(tbl.rows, row)
		return memResult{rows: 1}, nil
	}

	if m := reUpdate.FindStringSubmatch(query); m != nil {
		pairs := strings.Split(m[2], ", ")
		keyCol, keyIdx := m[3], mustAtoi(m[4])
		keyVal := args[keyIdx-1]
		var affected int64
		for _, row := range tbl.rows {
			if !valuesEqual(row[keyCol], keyVal) {
				continue
			}
			for _, p := range pairs {
				col, idx := parseAssignment(p)
				row[col] = args[idx-1]
			}
			affected++
		}
		return memResult{rows: affected}, nil
	}

	if m := reDelete.FindStringSubmatch(query); m != nil {
		col, idx := m[2], mustAtoi(m[3])
		val := args[idx-1]
		var kept []map[string]driver.Value
		var affected int64
		for _, row := range tbl.rows {
			if valuesEqual(row[col], val) {
				affected++
				continue
			}
			kept = append(kept, row)
		}
		tbl.rows = kept
		return memResult{rows: affected}, nil
	}

	return nil, fmt.Errorf("memTable.exec: unrecognized statement: %s", query)
}

func (tbl *memTable) query(query string, args []driver.Value) (driver.Rows, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	m := reSelect.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("memTable.query: unrecognized statement: %s", query)
	}
	fieldsExpr, whereExpr, orderExpr := m[1], m[3], m[4]

	matching := tbl.rows
	if whereExpr != "" {
		conds := strings.Split(whereExpr, " AND ")
		var filtered []map[string]driver.Value
		for _, row := range matching {
			if rowMatches(row, conds, args) {
				filtered = append(filtered, row)
			}
		}
		matching = filtered
	}

	if orderExpr != "" {
		matching = sortRows(matching, orderExpr)
	}

	if reCountStar.MatchString(fieldsExpr) {
		return countRows(int64(len(matching))), nil
	}
	if mm := reCountField.FindStringSubmatch(fieldsExpr); mm != nil {
		return countRows(int64(len(matching))), nil
	}
	if mm := reSumField.FindStringSubmatch(fieldsExpr); mm != nil {
		var sum float64
		for _, row := range matching {
			sum += numericOf(row[mm[1]])
		}
		return countRows(int64(sum)), nil
	}

	cols := splitQuoted(fieldsExpr)
	out := &memRows{columns: cols}
	for _, row := range matching {
		vals := make([]driver.Value, len(cols))
		for i, c := range cols {
			vals[i] = row[c]
		}
		out.data = append(out.data, vals)
	}
	return out, nil
}

func rowMatches(row map[string]driver.Value, conds []string, args []driver.Value) bool {
	for _, c := range conds {
		m := reCond.FindStringSubmatch(strings.TrimSpace(c))
		if m == nil {
			continue
		}
		col, op, idx := m[1], m[2], mustAtoi(m[3])
		val := args[idx-1]
		eq := valuesEqual(row[col], val)
		if op == "=" && !eq {
			return false
		}
		if op == "<>" && eq {
			return false
		}
	}
	return true
}

func parseAssignment(pair string) (string, int) {
	pair = strings.TrimSpace(pair)
	parts := strings.SplitN(pair, " = $", 2)
	col := strings.Trim(parts[0], `"`)
	idx := mustAtoi(parts[1])
	return col, idx
}

func splitQuoted(s string) []string {
	parts := strings.Split(s, ", ")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return out
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func valuesEqual(a, b driver.Value) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

func numericOf(v driver.Value) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

type sortKey struct {
	col  string
	desc bool
}

func sortRows(rows []map[string]driver.Value, orderExpr string) []map[string]driver.Value {
	out := make([]map[string]driver.Value, len(rows))
	copy(out, rows)
	tokens := strings.Split(orderExpr, ", ")
	var keys []sortKey
	for _, tok := range tokens {
		desc := strings.HasSuffix(tok, " DESC")
		col := strings.TrimSuffix(tok, " DESC")
		keys = append(keys, sortKey{col: col, desc: desc})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if !rowLess(out[j], out[j-1], keys) {
				break
			}
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rowLess(a, b map[string]driver.Value, keys []sortKey) bool {
	for _, k := range keys {
		av, bv := numericOf(a[k.col]), numericOf(b[k.col])
		if sa, ok := a[k.col].(string); ok {
			sb, _ := b[k.col].(string)
			if sa == sb {
				continue
			}
			if k.desc {
				return sa > sb
			}
			return sa < sb
		}
		if av == bv {
			continue
		}
		if k.desc {
			return av > bv
		}
		return av < bv
	}
	return false
}

type memResult struct{ rows int64 }

func (memResult) LastInsertId() (int64, error) { return 0, nil }
func (r memResult) RowsAffected() (int64, error) { return r.rows, nil }

func countRows(n int64) driver.Rows {
	return &memRows{columns: []string{""}, data: [][]driver.Value{{n}}}
}

type memRows struct {
	columns []string
	data    [][]driver.Value
	idx     int
}

func (r *memRows) Columns() []string { return r.columns }
func (r *memRows) Close() error      { return nil }

func (r *memRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.idx])
	r.idx++
	return nil
}

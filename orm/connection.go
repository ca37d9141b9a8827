// Package orm is the connection runtime of §4.5 (C5): a transaction-scoped
// executor that performs insert/update/delete/select with partial-field
// writes, dirty tracking, optimistic conflict detection, delayed field
// loading, change logging and transactional event buffering. It is the
// component every application call ultimately goes through; it resolves an
// entity's description from the type registry, consults the dialect
// translator for command templates and value marshalling, composes SQL
// directly (Save/Delete) or via the query builder (Select/List), and
// delivers events to the event hub on success.
package orm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/errs"
	"github.com/entitymapper/entitymapper/event"
	"github.com/entitymapper/entitymapper/registry"
	"go.uber.org/zap"
)

// Executor is the minimal driver surface a Connection needs; *sql.DB and
// *sql.Tx both satisfy it, matching the schema engine's own Executor seam.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ConflictMode is the optimistic-concurrency policy applied on Save's
// update path (§4.5 step 3, §6).
type ConflictMode int

const (
	// LastWins never checks the stored changed-timestamp before writing.
	LastWins ConflictMode = iota
	// FirstWins fails the save with a Conflict error when the stored
	// changed-timestamp is newer than the instance's own.
	FirstWins
)

// Trace is the payload delivered to the four observable events of §6:
// trace_before_execute, trace_after_execute, after_save and after_delete.
// Entity is populated only for the latter two.
type Trace struct {
	CommandText string
	Timestamp   time.Time
	Elapsed     time.Duration
	Parameters  []any
	Entity      entity.Data
}

// TraceFunc receives one Trace event. A nil TraceFunc is never invoked.
type TraceFunc func(Trace)

// outbox is the transaction-local queue of pending change events of §4.5
// and the GLOSSARY, flushed to the event hub in enqueue order on commit and
// discarded on rollback. The mutex exists so a background committer and
// interleaved enqueues from nested scopes on the same connection don't
// race (§5).
type outbox struct {
	mu   sync.Mutex
	msgs []event.Message
}

func (o *outbox) enqueue(msg event.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) drain() []event.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.msgs
	o.msgs = nil
	return msgs
}

func (o *outbox) discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}

// ConnOption configures a Connection at construction.
type ConnOption func(*Connection)

// WithChangeLogger attaches a change logger; omit to log nothing (§4.5).
func WithChangeLogger(l ChangeLogger) ConnOption {
	return func(c *Connection) { c.changeLogger = l }
}

// WithHub targets a non-default event hub instead of event.Global.
func WithHub(h *event.Hub) ConnOption {
	return func(c *Connection) { c.hub = h }
}

// WithSilent suppresses every event and trace callback (§6's "when silent
// is set, none fire").
func WithSilent() ConnOption {
	return func(c *Connection) { c.silent = true }
}

// WithLogger installs an operational zap logger; defaults to zap.NewNop().
func WithLogger(log *zap.Logger) ConnOption {
	return func(c *Connection) { c.log = log }
}

// WithTrace installs the before/after-execute trace callbacks.
func WithTrace(before, after TraceFunc) ConnOption {
	return func(c *Connection) { c.traceBefore, c.traceAfter = before, after }
}

// WithAfterSave installs the after_save callback.
func WithAfterSave(fn TraceFunc) ConnOption {
	return func(c *Connection) { c.afterSave = fn }
}

// WithAfterDelete installs the after_delete callback.
func WithAfterDelete(fn TraceFunc) ConnOption {
	return func(c *Connection) { c.afterDelete = fn }
}

// WithConflictMode sets the optimistic-concurrency policy Save's update
// path enforces; defaults to LastWins.
func WithConflictMode(m ConflictMode) ConnOption {
	return func(c *Connection) { c.conflictMode = m }
}

// Connection is the scoped resource of §4.5: one driver connection pool, at
// most one active transaction, a transactional event outbox and an
// optional change logger. It is not safe for concurrent use by more than
// one goroutine (§5): using one connection on multiple threads is a
// contract violation the core does not guard against.
type Connection struct {
	pool       *sql.DB
	tx         *sql.Tx
	db         Executor
	translator dialect.Translator

	changeLogger ChangeLogger
	hub          *event.Hub
	outbox       outbox
	silent       bool
	conflictMode ConflictMode

	traceBefore TraceFunc
	traceAfter  TraceFunc
	afterSave   TraceFunc
	afterDelete TraceFunc

	log *zap.Logger
}

// New binds a Connection to pool, emitting SQL through translator.
func New(pool *sql.DB, translator dialect.Translator, opts ...ConnOption) *Connection {
	c := &Connection{
		pool:       pool,
		db:         pool,
		translator: translator,
		hub:        event.Global,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sibling returns a non-transactional Connection sharing this one's pool,
// translator and wiring, used for the delayed-field "new connection" load
// of §4.5 without disturbing any transaction active on c.
func (c *Connection) sibling() *Connection {
	return &Connection{
		pool:       c.pool,
		db:         c.pool,
		translator: c.translator,
		hub:        c.hub,
		silent:     c.silent,
		log:        c.log,
	}
}

// Begin opens a transaction. It fails if there is no driver pool or a
// transaction is already active (§4.5), and notifies the change logger to
// open a nested change batch.
func (c *Connection) Begin(ctx context.Context) error {
	const op = "orm.Connection.Begin"
	if c.pool == nil {
		return errs.New(errs.Connection, op, fmt.Errorf("no driver connection"))
	}
	if c.tx != nil {
		return errs.New(errs.Connection, op, fmt.Errorf("a transaction already exists"))
	}
	tx, err := c.pool.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.Connection, op, err)
	}
	c.tx = tx
	c.db = tx
	if c.changeLogger != nil {
		if err := c.changeLogger.BeginBatch(); err != nil {
			return errs.New(errs.Transaction, op, err)
		}
	}
	return nil
}

// Commit finalizes the driver transaction, flushes the event outbox to the
// event hub in enqueue order, and commits the change logger. A driver
// commit failure is surfaced as a Transaction error and no events are
// delivered (§4.5).
func (c *Connection) Commit(ctx context.Context) error {
	const op = "orm.Connection.Commit"
	if c.tx == nil {
		return errs.New(errs.Connection, op, fmt.Errorf("no active transaction"))
	}
	if err := c.tx.Commit(); err != nil {
		c.outbox.discard()
		c.tx, c.db = nil, c.pool
		return errs.New(errs.Transaction, op, err)
	}
	c.tx, c.db = nil, c.pool

	if c.changeLogger != nil {
		if err := c.changeLogger.CommitBatch(); err != nil {
			return errs.New(errs.Transaction, op, err)
		}
	}

	for _, msg := range c.outbox.drain() {
		c.publish(msg)
	}
	return nil
}

// Rollback aborts the driver transaction, discards the outbox, and rolls
// back the change logger. No events are delivered (§4.5).
func (c *Connection) Rollback(ctx context.Context) error {
	const op = "orm.Connection.Rollback"
	if c.tx == nil {
		return errs.New(errs.Connection, op, fmt.Errorf("no active transaction"))
	}
	err := c.tx.Rollback()
	c.outbox.discard()
	c.tx, c.db = nil, c.pool
	if c.changeLogger != nil {
		c.changeLogger.RollbackBatch()
	}
	if err != nil {
		return errs.New(errs.Transaction, op, err)
	}
	return nil
}

// Close rolls back any live transaction before returning (§4.5: "close...
// rolls back any active transaction on close"). It does not close the
// underlying pool, which is owned by whoever constructed it and may be
// shared by other connections.
func (c *Connection) Close(ctx context.Context) error {
	if c.tx != nil {
		return c.Rollback(ctx)
	}
	return nil
}

func (c *Connection) publish(msg event.Message) {
	if c.silent || c.hub == nil {
		return
	}
	c.hub.Publish(msg)
}

// deliver either publishes msg directly (no active transaction) or
// enqueues it into the outbox (active transaction), per §4.5 step 10.
func (c *Connection) deliver(msg event.Message) {
	if c.silent {
		return
	}
	if c.tx != nil {
		c.outbox.enqueue(msg)
		return
	}
	c.publish(msg)
}

func (c *Connection) trace(fn TraceFunc, t Trace) {
	if c.silent || fn == nil {
		return
	}
	fn(t)
}

// execTraced runs query/args through db.ExecContext, firing the
// trace_before_execute/trace_after_execute events around it even when the
// statement fails (§7: "tracing callbacks are fired around every
// statement, even those that throw").
func (c *Connection) execTraced(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.trace(c.traceBefore, Trace{CommandText: query, Timestamp: time.Now(), Parameters: args})
	start := time.Now()
	res, err := c.db.ExecContext(ctx, query, args...)
	c.trace(c.traceAfter, Trace{CommandText: query, Timestamp: start, Elapsed: time.Since(start), Parameters: args})
	return res, err
}

func (c *Connection) queryTraced(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.trace(c.traceBefore, Trace{CommandText: query, Timestamp: time.Now(), Parameters: args})
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, args...)
	c.trace(c.traceAfter, Trace{CommandText: query, Timestamp: start, Elapsed: time.Since(start), Parameters: args})
	return rows, err
}

func (c *Connection) queryRowTraced(ctx context.Context, query string, args ...any) *sql.Row {
	c.trace(c.traceBefore, Trace{CommandText: query, Timestamp: time.Now(), Parameters: args})
	start := time.Now()
	row := c.db.QueryRowContext(ctx, query, args...)
	c.trace(c.traceAfter, Trace{CommandText: query, Timestamp: start, Elapsed: time.Since(start), Parameters: args})
	return row
}

// descFor resolves e's TypeDesc via the type registry, keyed by e's
// concrete Go type (the same reflect.Type an application passes as
// entityType to registry.Register).
func descFor(e entity.Data) (*registry.TypeDesc, error) {
	desc, ok := registry.Get(reflect.TypeOf(e))
	if !ok {
		return nil, errs.Structuralf("orm.descFor", "entity type %T is not registered", e)
	}
	return desc, nil
}

// fieldAccessorName maps a FieldDesc to the name its value is reachable
// under via entity.Data.FieldValue/SetField. The four distinguished roles
// live on BaseData itself under fixed names regardless of the field's
// declared column name; every other field is addressed by its own name.
func fieldAccessorName(f *registry.FieldDesc) string {
	switch f.Role {
	case registry.RolePrimaryKey:
		return "Key"
	case registry.RoleTimestampCreated:
		return "Created"
	case registry.RoleTimestampChanged:
		return "Changed"
	case registry.RoleArchiveFlag:
		return "Archived"
	default:
		return f.Name
	}
}

// flatten reports whether a is an enumerable value (any slice/array other
// than []byte, which is a scalar blob/image value) and returns its
// elements, implementing §4.5's "if an argument is itself an enumerable,
// it is flattened once".
func flatten(a any) ([]any, bool) {
	if a == nil {
		return nil, false
	}
	if _, ok := a.([]byte); ok {
		return nil, false
	}
	v := reflect.ValueOf(a)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

// bind rewrites each positional "?" in query (as emitted by the query
// builder) to this dialect's native placeholder syntax in left-to-right
// order, flattening any enumerable argument into one placeholder per
// element (§4.5's parameter-binding rule).
func (c *Connection) bind(query string, args []any) (string, []any) {
	var sb strings.Builder
	var bound []any
	argIdx := 0
	phIdx := 0
	for _, r := range query {
		if r != '?' || argIdx >= len(args) {
			sb.WriteRune(r)
			continue
		}
		a := args[argIdx]
		argIdx++
		if vals, ok := flatten(a); ok {
			parts := make([]string, len(vals))
			for i, v := range vals {
				parts[i] = c.translator.Placeholder(phIdx)
				phIdx++
				bound = append(bound, v)
			}
			sb.WriteString(strings.Join(parts, ", "))
		} else {
			sb.WriteString(c.translator.Placeholder(phIdx))
			phIdx++
			bound = append(bound, a)
		}
	}
	return sb.String(), bound
}

// indexedTokenRe matches the named "@v0", "@v1", ... / "@p0", "@p1", ...
// bind tokens the dialect's direct Insert/Update/Delete/SelectByKey family
// of command templates use (§4.5's "#PAIRS# and @v0 bound to the primary
// key plus @v1..@vN").
var indexedTokenRe = regexp.MustCompile(`@[vp](\d+)`)

// resolveIndexed renders every "@vN"/"@pN" token in sqlText in the dialect's
// native placeholder syntax, renumbered by left-to-right textual
// occurrence order rather than by the token's own index: a positional
// dialect (PostgreSql) binds arguments strictly in textual order, while a
// named-parameter dialect (MsSql/AzureSql) matches by name regardless of
// order, so renumbering sequentially is correct either way and sidesteps
// the fact that #PAIRS# may place @v1..@vN before the @v0 key reference
// that follows it in the template.
func resolveIndexed(translator dialect.Translator, sqlText string, values map[int]any) (string, []any) {
	var bound []any
	n := 0
	out := indexedTokenRe.ReplaceAllStringFunc(sqlText, func(tok string) string {
		m := indexedTokenRe.FindStringSubmatch(tok)
		idx, _ := strconv.Atoi(m[1])
		bound = append(bound, values[idx])
		ph := translator.Placeholder(n)
		n++
		return ph
	})
	return out, bound
}

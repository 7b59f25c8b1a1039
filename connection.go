package connkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fernandezvara/connkit/hooks"
)

// State is the derived lifecycle state of a connection. It is computed
// from the driver handle rather than tracked independently.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// connSeq assigns process-wide, strictly increasing connection ids.
var connSeq atomic.Int64

// idleCloseTimeout bounds the background close issued by the idle timer.
const idleCloseTimeout = 5 * time.Second

// idleRetryDelay is how long the idle callback waits before retrying after
// losing the race for the state mutex.
const idleRetryDelay = 50 * time.Millisecond

// querier is the command surface shared by the driver handle and an
// active transaction, so executions route through whichever applies.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connection owns one driver connection handle, at most one active
// transaction, an idle-close timer, and a bounded action history.
//
// A Connection is not safe for concurrent use by multiple goroutines;
// callers must serialize access, mirroring the driver's own contract. The
// one sanctioned background path is the idle-close timer, which is fenced
// off by the same state mutex the foreground operations hold, so a timer
// close can never interleave mid-operation.
//
// Every operation comes in a blocking form and a context form with
// equivalent contracts; the blocking form runs with context.Background().
type Connection struct {
	id        int64
	createdAt time.Time
	opts      *Options

	// mu guards the handle, the transaction, and the idle timer.
	mu           sync.Mutex
	handle       Handle
	tx           pgx.Tx
	idleTimer    *time.Timer
	idleDeadline time.Time // earliest instant the idle callback may close

	// disposeMu serializes disposal so teardown runs exactly once.
	disposeMu sync.Mutex
	disposed  atomic.Bool

	history actionLog
	logger  *slog.Logger
	hooks   []hooks.Hook
}

func newConnection(opts *Options, handle Handle, logger *slog.Logger, hks []hooks.Hook) *Connection {
	c := &Connection{
		id:        connSeq.Add(1),
		createdAt: time.Now(),
		opts:      opts,
		handle:    handle,
		logger:    logger,
	}
	if len(hks) > 0 {
		c.hooks = make([]hooks.Hook, len(hks))
		copy(c.hooks, hks)
	}
	return c
}

// ID returns the connection's process-wide unique identifier
func (c *Connection) ID() int64 {
	return c.id
}

// CreatedAt returns when the connection was constructed
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// IsPrimary reports whether the connection is exempt from idle auto-close
func (c *Connection) IsPrimary() bool {
	return c.opts.IsPrimary
}

// Options returns a copy of the connection's options
func (c *Connection) Options() *Options {
	return c.opts.Clone()
}

// State returns the derived lifecycle state
func (c *Connection) State() State {
	if c.disposed.Load() {
		return StateDisposed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil && c.handle.IsOpen() {
		return StateOpen
	}
	return StateClosed
}

// IsTransactionActive reports whether a transaction is in progress
func (c *Connection) IsTransactionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// LastAction returns the most recent recorded action, if any
func (c *Connection) LastAction() (Action, bool) {
	return c.history.last()
}

// ActionHistory returns a copy of the recent action trail, oldest first
func (c *Connection) ActionHistory() []Action {
	return c.history.snapshot()
}

// guard rejects operations on a disposed connection and honors
// cancellation before any I/O. Cancellation errors are returned unwrapped.
func (c *Connection) guard(ctx context.Context, op string) error {
	if c.disposed.Load() {
		return &Error{Code: CodeDisposed, Message: "connection is disposed", Op: op}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// observe appends the action label to the history and notifies hooks.
func (c *Connection) observe(ctx context.Context, op, query string, start time.Time, err error) {
	c.history.record(op)

	if len(c.hooks) == 0 {
		return
	}
	ev := hooks.Event{
		ConnectionID: c.id,
		Op:           op,
		Query:        query,
		StartedAt:    start,
		Duration:     time.Since(start),
		Err:          err,
	}
	for _, h := range c.hooks {
		h.ConnectionAction(ctx, ev)
	}
}

// Open opens the connection, blocking until done
func (c *Connection) Open() error {
	return c.OpenContext(context.Background())
}

// OpenContext opens the underlying handle if it is not already open,
// applies the session lock timeout, and records the action. Opening an
// already-open connection is a no-op, but the idle timer is reset either
// way.
func (c *Connection) OpenContext(ctx context.Context) error {
	if err := c.guard(ctx, "Open"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return err
	}
	c.resetIdleTimerLocked()
	return nil
}

func (c *Connection) openLocked(ctx context.Context) error {
	if c.handle == nil {
		return &Error{Code: CodeConnectionFailed, Message: "no driver handle", Op: "Open"}
	}
	if c.handle.IsOpen() {
		return nil
	}

	start := time.Now()
	if err := c.handle.Open(ctx); err != nil {
		c.observe(ctx, "open", "", start, err)
		return err
	}
	if c.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET lock_timeout = %d", c.opts.LockTimeout.Milliseconds())
		if _, err := c.handle.Exec(ctx, stmt); err != nil {
			// The session is only half-configured. Tear it down so a retry
			// re-opens and re-applies the setting instead of hitting the
			// already-open no-op branch.
			if cerr := c.handle.Close(ctx); cerr != nil && c.logger != nil {
				c.logger.Warn("close after failed session setup",
					slog.Int64("conn_id", c.id),
					slog.String("error", cerr.Error()))
			}
			c.observe(ctx, "open", stmt, start, err)
			return err
		}
	}
	c.observe(ctx, "open", "", start, nil)
	return nil
}

// Close closes the connection, blocking until done
func (c *Connection) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext closes the underlying handle if it is open; no-op
// otherwise. It does not touch transaction bookkeeping: closing with an
// open transaction is the caller's responsibility to avoid.
func (c *Connection) CloseContext(ctx context.Context) error {
	if err := c.guard(ctx, "Close"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked(ctx)
}

func (c *Connection) closeLocked(ctx context.Context) error {
	if c.handle == nil || !c.handle.IsOpen() {
		return nil
	}
	start := time.Now()
	err := c.handle.Close(ctx)
	c.observe(ctx, "close", "", start, err)
	return err
}

// Begin starts a transaction at the default isolation level, blocking
// until done
func (c *Connection) Begin() error {
	return c.BeginTx(context.Background(), pgx.ReadCommitted)
}

// BeginTx starts a transaction at the requested isolation level,
// auto-opening the connection if needed. On failure the transaction state
// is cleared before the driver error propagates, so the connection stays
// usable for a retry.
func (c *Connection) BeginTx(ctx context.Context, iso pgx.TxIsoLevel) error {
	if err := c.guard(ctx, "Begin"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil {
		return &Error{Code: CodeInvalidOperation, Message: "transaction already active", Op: "Begin"}
	}
	if err := c.openLocked(ctx); err != nil {
		return err
	}
	if iso == "" {
		iso = pgx.ReadCommitted
	}

	start := time.Now()
	tx, err := c.handle.Begin(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		c.tx = nil
		c.observe(ctx, "begin", "", start, err)
		return err
	}
	c.tx = tx
	c.observe(ctx, "begin", "", start, nil)
	return nil
}

// Commit commits the active transaction, blocking until done
func (c *Connection) Commit() error {
	return c.CommitContext(context.Background())
}

// CommitContext commits the active transaction. No-op when none is
// active. The transaction state is cleared even when the driver call
// fails, so the connection never sticks in a transactional state.
func (c *Connection) CommitContext(ctx context.Context) error {
	if err := c.guard(ctx, "Commit"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTxLocked(ctx, "commit")
}

// Rollback rolls back the active transaction, blocking until done
func (c *Connection) Rollback() error {
	return c.RollbackContext(context.Background())
}

// RollbackContext rolls back the active transaction. No-op when none is
// active. The transaction state is cleared even when the driver call
// fails.
func (c *Connection) RollbackContext(ctx context.Context) error {
	if err := c.guard(ctx, "Rollback"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTxLocked(ctx, "rollback")
}

func (c *Connection) endTxLocked(ctx context.Context, op string) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	// Cleared no matter how the driver call ends.
	defer func() {
		c.tx = nil
		c.resetIdleTimerLocked()
	}()

	start := time.Now()
	var err error
	if op == "commit" {
		err = tx.Commit(ctx)
	} else {
		err = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrTxClosed) {
			err = nil
		}
	}
	c.observe(ctx, op, "", start, err)
	return err
}

// Savepoint creates a named savepoint, blocking until done
func (c *Connection) Savepoint(name string) error {
	return c.SavepointContext(context.Background(), name)
}

// SavepointContext creates a named savepoint within the active
// transaction. The name is passed to the server verbatim; uniqueness is
// not enforced here.
func (c *Connection) SavepointContext(ctx context.Context, name string) error {
	return c.savepointExec(ctx, "Savepoint", "savepoint", "SAVEPOINT "+name)
}

// RollbackToSavepoint rolls back to a named savepoint, blocking until done
func (c *Connection) RollbackToSavepoint(name string) error {
	return c.RollbackToSavepointContext(context.Background(), name)
}

// RollbackToSavepointContext rolls back the active transaction to a named
// savepoint without ending it.
func (c *Connection) RollbackToSavepointContext(ctx context.Context, name string) error {
	return c.savepointExec(ctx, "RollbackToSavepoint", "rollback to savepoint", "ROLLBACK TO SAVEPOINT "+name)
}

// ReleaseSavepoint releases a named savepoint, blocking until done
func (c *Connection) ReleaseSavepoint(name string) error {
	return c.ReleaseSavepointContext(context.Background(), name)
}

// ReleaseSavepointContext releases a named savepoint within the active
// transaction.
func (c *Connection) ReleaseSavepointContext(ctx context.Context, name string) error {
	return c.savepointExec(ctx, "ReleaseSavepoint", "release savepoint", "RELEASE SAVEPOINT "+name)
}

func (c *Connection) savepointExec(ctx context.Context, op, label, stmt string) error {
	if err := c.guard(ctx, op); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return &Error{Code: CodeInvalidOperation, Message: "no active transaction", Op: op}
	}

	start := time.Now()
	_, err := c.tx.Exec(ctx, stmt)
	c.observe(ctx, label, stmt, start, err)
	c.resetIdleTimerLocked()
	return err
}

// querierLocked routes executions through the active transaction when one
// exists, otherwise straight through the handle.
func (c *Connection) querierLocked() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.handle
}

// commandContext applies the per-command timeout from the options.
func (c *Connection) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CommandTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CommandTimeout)
	}
	return ctx, func() {}
}

// Exec executes a statement, blocking until done
func (c *Connection) Exec(sql string, params Params) (int64, error) {
	return c.ExecContext(context.Background(), sql, params)
}

// ExecContext executes a statement that returns no rows and reports the
// number of rows affected.
func (c *Connection) ExecContext(ctx context.Context, sql string, params Params) (int64, error) {
	if err := c.guard(ctx, "Exec"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return 0, err
	}

	cctx, cancel := c.commandContext(ctx)
	defer cancel()

	start := time.Now()
	tag, err := c.querierLocked().Exec(cctx, sql, params.args()...)
	c.observe(ctx, "exec", sql, start, err)
	c.resetIdleTimerLocked()
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// QueryScalar executes a single-value query, blocking until done
func (c *Connection) QueryScalar(sql string, params Params) (any, error) {
	return c.QueryScalarContext(context.Background(), sql, params)
}

// QueryScalarContext executes a query expected to return a single value
// and returns the first column of the first row. An empty result yields
// nil with no error. Use the Scalar helper for typed results.
func (c *Connection) QueryScalarContext(ctx context.Context, sql string, params Params) (any, error) {
	if err := c.guard(ctx, "QueryScalar"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return nil, err
	}

	cctx, cancel := c.commandContext(ctx)
	defer cancel()

	start := time.Now()
	var value any
	err := c.querierLocked().QueryRow(cctx, sql, params.args()...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		value, err = nil, nil
	}
	c.observe(ctx, "scalar", sql, start, err)
	c.resetIdleTimerLocked()
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Result is a fully materialized tabular query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows in the result
func (r *Result) Len() int {
	return len(r.Rows)
}

// Query executes a query and materializes the result, blocking until done
func (c *Connection) Query(sql string, params Params) (*Result, error) {
	return c.QueryContext(context.Background(), sql, params)
}

// QueryContext executes a query and materializes every row into a Result.
func (c *Connection) QueryContext(ctx context.Context, sql string, params Params) (*Result, error) {
	if err := c.guard(ctx, "Query"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return nil, err
	}

	cctx, cancel := c.commandContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := c.querierLocked().Query(cctx, sql, params.args()...)
	if err != nil {
		c.observe(ctx, "query", sql, start, err)
		c.resetIdleTimerLocked()
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = string(fd.Name)
	}

	var out [][]any
	for rows.Next() {
		values, verr := rows.Values()
		if verr != nil {
			c.observe(ctx, "query", sql, start, verr)
			c.resetIdleTimerLocked()
			return nil, verr
		}
		out = append(out, values)
	}
	err = rows.Err()
	c.observe(ctx, "query", sql, start, err)
	c.resetIdleTimerLocked()
	if err != nil {
		return nil, err
	}
	return &Result{Columns: columns, Rows: out}, nil
}

// QueryRows executes a query and streams the result, blocking until the
// first response
func (c *Connection) QueryRows(sql string, params Params) (pgx.Rows, error) {
	return c.QueryRowsContext(context.Background(), sql, params)
}

// QueryRowsContext executes a query and returns a streaming result. The
// caller must close the returned Rows. The per-command timeout is not
// applied here: canceling it on return would abort the stream, so the
// caller's context governs the read.
func (c *Connection) QueryRowsContext(ctx context.Context, sql string, params Params) (pgx.Rows, error) {
	if err := c.guard(ctx, "QueryRows"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := c.querierLocked().Query(ctx, sql, params.args()...)
	c.observe(ctx, "rows", sql, start, err)
	c.resetIdleTimerLocked()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ResetAutoCloseTimer reschedules the idle-close timer for a full idle
// period. No-op when auto-close does not apply or a transaction is active:
// an active transaction suppresses auto-close regardless of timer state.
func (c *Connection) ResetAutoCloseTimer() {
	if c.disposed.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIdleTimerLocked()
}

func (c *Connection) resetIdleTimerLocked() {
	if c.opts.IsPrimary || c.opts.DisableAutoClose || c.opts.AutoCloseTimeout <= 0 {
		return
	}
	if c.tx != nil {
		return
	}
	c.idleDeadline = time.Now().Add(c.opts.AutoCloseTimeout)
	c.armIdleTimerLocked(c.opts.AutoCloseTimeout)
}

func (c *Connection) armIdleTimerLocked(d time.Duration) {
	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(d, c.idleClose)
		return
	}
	c.idleTimer.Stop()
	c.idleTimer.Reset(d)
}

// idleClose runs on the timer goroutine. It never propagates a failure:
// nothing is listening on this path, so errors are reported to the logger
// and dropped.
func (c *Connection) idleClose() {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("idle close panicked",
				slog.Int64("conn_id", c.id),
				slog.Any("panic", r))
		}
	}()

	// Someone holds the state mutex right now. The holder may be a pure
	// read that never reschedules the timer, so retry shortly rather than
	// counting on it. A retry on a disposed connection bails out below.
	if !c.mu.TryLock() {
		time.AfterFunc(idleRetryDelay, c.idleClose)
		return
	}
	defer c.mu.Unlock()

	if c.disposed.Load() || c.tx != nil || c.opts.IsPrimary || c.opts.DisableAutoClose {
		return
	}
	if c.handle == nil || !c.handle.IsOpen() {
		return
	}

	// Activity since this timer was armed moved the deadline forward;
	// sleep out the remainder instead of closing early.
	if remaining := time.Until(c.idleDeadline); remaining > 0 {
		c.armIdleTimerLocked(remaining)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), idleCloseTimeout)
	defer cancel()

	start := time.Now()
	err := c.handle.Close(ctx)
	c.observe(ctx, "idle close", "", start, err)
	if err != nil && c.logger != nil {
		c.logger.Error("idle close failed",
			slog.Int64("conn_id", c.id),
			slog.String("error", err.Error()))
	}
}

// Dispose releases the connection, blocking until done
func (c *Connection) Dispose() error {
	return c.DisposeContext(context.Background())
}

// DisposeContext permanently releases the connection: the idle timer is
// stopped, a still-active transaction is rolled back best-effort (the
// rollback error is intentionally discarded; disposal must not fail
// because rollback failed), the handle is closed, and for primary or
// non-pooled connections the driver's pool is purged for this connection's
// identity. Disposal is idempotent; every operation after it fails with a
// disposed-object error.
func (c *Connection) DisposeContext(ctx context.Context) error {
	c.disposeMu.Lock()
	defer c.disposeMu.Unlock()

	if c.disposed.Load() {
		return nil
	}
	c.disposed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}

	if c.tx != nil {
		if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			if c.logger != nil {
				c.logger.Warn("rollback during disposal failed",
					slog.Int64("conn_id", c.id),
					slog.String("error", err.Error()))
			}
		}
		c.tx = nil
	}

	var err error
	if c.handle != nil {
		if c.handle.IsOpen() {
			err = c.handle.Close(ctx)
		}
		if c.opts.IsPrimary || !c.opts.Pooling {
			if perr := c.handle.ClearPool(ctx); perr != nil && err == nil {
				err = perr
			}
		}
		c.handle = nil
	}

	c.hooks = nil
	c.history.record("dispose")
	return err
}

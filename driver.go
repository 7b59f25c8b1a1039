package connkit

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Handle abstracts the physical driver connection owned by a Connection.
//
// A handle is either direct (its own wire connection, opened with
// pgx.Connect) or pooled (acquired from a process-wide pool shared by all
// connections with the same connection string). Close on a pooled handle
// releases the physical connection back to the pool; Close on a direct
// handle tears the wire connection down.
type Handle interface {
	// Open establishes or acquires the physical connection.
	Open(ctx context.Context) error

	// Close releases the physical connection. No-op when not open.
	Close(ctx context.Context) error

	// IsOpen reports whether a usable physical connection is held.
	IsOpen() bool

	// Begin starts a transaction on the physical connection.
	Begin(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)

	// Exec executes a statement that does not return rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Query executes a statement that returns rows. The caller must close
	// the returned Rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes a statement expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// ClearPool discards the pooled physical connections associated with
	// this handle's connection identity.
	ClearPool(ctx context.Context) error
}

// Opener builds the Handle for a connection from its options. The factory
// uses the pgx-backed opener by default; tests substitute their own.
type Opener func(opts *Options) (Handle, error)

// defaultOpener returns a pgx-backed handle, pooled or direct depending on
// Options.Pooling.
func defaultOpener(opts *Options) (Handle, error) {
	connString, err := opts.ConnString()
	if err != nil {
		return nil, err
	}
	return &pgxHandle{
		connString: connString,
		pooled:     opts.Pooling,
		minConns:   int32(opts.MinPoolSize),
		maxConns:   int32(opts.MaxPoolSize),
	}, nil
}

// pgxQuerier is the command surface shared by *pgx.Conn and *pgxpool.Conn.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type pgxHandle struct {
	connString string
	pooled     bool
	minConns   int32
	maxConns   int32

	conn     *pgx.Conn     // direct
	poolConn *pgxpool.Conn // pooled
}

func (h *pgxHandle) Open(ctx context.Context) error {
	if h.IsOpen() {
		return nil
	}

	if h.pooled {
		pool, err := sharedPool(ctx, h.connString, h.minConns, h.maxConns)
		if err != nil {
			return err
		}
		pc, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		h.poolConn = pc
		return nil
	}

	conn, err := pgx.Connect(ctx, h.connString)
	if err != nil {
		return err
	}
	h.conn = conn
	return nil
}

func (h *pgxHandle) Close(ctx context.Context) error {
	if h.poolConn != nil {
		h.poolConn.Release()
		h.poolConn = nil
		return nil
	}
	if h.conn != nil {
		err := h.conn.Close(ctx)
		h.conn = nil
		return err
	}
	return nil
}

func (h *pgxHandle) IsOpen() bool {
	if h.poolConn != nil {
		return !h.poolConn.Conn().IsClosed()
	}
	return h.conn != nil && !h.conn.IsClosed()
}

func (h *pgxHandle) querier() (pgxQuerier, error) {
	if h.poolConn != nil {
		return h.poolConn, nil
	}
	if h.conn != nil {
		return h.conn, nil
	}
	return nil, &Error{
		Code:    CodeConnectionFailed,
		Message: "no open physical connection",
		Op:      "Handle",
	}
}

func (h *pgxHandle) Begin(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	q, err := h.querier()
	if err != nil {
		return nil, err
	}
	return q.BeginTx(ctx, opts)
}

func (h *pgxHandle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q, err := h.querier()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return q.Exec(ctx, sql, args...)
}

func (h *pgxHandle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q, err := h.querier()
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, sql, args...)
}

func (h *pgxHandle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q, err := h.querier()
	if err != nil {
		return errRow{err: err}
	}
	return q.QueryRow(ctx, sql, args...)
}

func (h *pgxHandle) ClearPool(ctx context.Context) error {
	_ = ctx
	resetSharedPool(h.connString)
	return nil
}

// errRow satisfies pgx.Row for a handle without a physical connection.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}

// Process-wide pool registry, keyed by connection string. Pooled handles
// with the same connection string share one pool, mirroring how the driver
// pools physical connections by connection identity.
var (
	poolsMu sync.Mutex
	pools   = make(map[string]*pgxpool.Pool)
)

func sharedPool(ctx context.Context, connString string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	if p, ok := pools[connString]; ok {
		return p, nil
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pools[connString] = p
	return p, nil
}

// resetSharedPool discards the pooled physical connections for the given
// connection identity. Connections currently checked out are destroyed on
// release instead of being returned to the pool.
func resetSharedPool(connString string) {
	poolsMu.Lock()
	p, ok := pools[connString]
	poolsMu.Unlock()

	if ok {
		p.Reset()
	}
}

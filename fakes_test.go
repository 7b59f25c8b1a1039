package connkit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeHandle implements Handle for unit tests. It is mutex-guarded because
// the idle-close timer calls it from its own goroutine.
type fakeHandle struct {
	mu sync.Mutex

	open           bool
	openCalls      int
	closeCalls     int
	clearPoolCalls int

	openErr  error
	closeErr error
	beginErr error
	execErr  error
	queryErr error

	execTag     string
	execLog     []string
	queryLog    []string
	scalar      any
	scalarErr   error
	scalarBySQL map[string]any
	rowsCols    []string
	rowsData    [][]any

	lastTx  *fakeTx
	lastIso pgx.TxIsoLevel
}

func (h *fakeHandle) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openCalls++
	if h.openErr != nil {
		return h.openErr
	}
	h.open = true
	return nil
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCalls++
	if h.closeErr != nil {
		return h.closeErr
	}
	h.open = false
	return nil
}

func (h *fakeHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHandle) Begin(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.beginErr != nil {
		return nil, h.beginErr
	}
	tx := &fakeTx{}
	h.lastTx = tx
	h.lastIso = opts.IsoLevel
	return tx, nil
}

func (h *fakeHandle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execLog = append(h.execLog, sql)
	if h.execErr != nil {
		return pgconn.CommandTag{}, h.execErr
	}
	tag := h.execTag
	if tag == "" {
		tag = "OK"
	}
	return pgconn.NewCommandTag(tag), nil
}

func (h *fakeHandle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queryLog = append(h.queryLog, sql)
	if h.queryErr != nil {
		return nil, h.queryErr
	}
	return &fakeRows{cols: h.rowsCols, data: h.rowsData}, nil
}

func (h *fakeHandle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queryLog = append(h.queryLog, sql)
	if v, ok := h.scalarBySQL[sql]; ok {
		return fakeRow{value: v}
	}
	return fakeRow{value: h.scalar, err: h.scalarErr}
}

func (h *fakeHandle) ClearPool(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearPoolCalls++
	return nil
}

func (h *fakeHandle) snapshotExecLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.execLog))
	copy(out, h.execLog)
	return out
}

// fakeTx implements pgx.Tx for unit tests.
type fakeTx struct {
	mu sync.Mutex

	commits   int
	rollbacks int
	done      bool

	commitErr   error
	rollbackErr error
	execErr     error
	execLog     []string
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return t, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
	if t.commitErr != nil {
		return t.commitErr
	}
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.rollbacks++
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	t.done = true
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execLog = append(t.execLog, sql)
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execLog = append(t.execLog, sql)
	return &fakeRows{}, nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execLog = append(t.execLog, sql)
	return fakeRow{}
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}

func (t *fakeTx) Conn() *pgx.Conn {
	return nil
}

// fakeRow implements pgx.Row.
type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > 0 {
		if p, ok := dest[0].(*any); ok {
			*p = r.value
		}
	}
	return nil
}

// fakeRows implements pgx.Rows.
type fakeRows struct {
	cols []string
	data [][]any
	idx  int
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error {
	return nil
}

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("SELECT")
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		out[i] = pgconn.FieldDescription{Name: c}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.idx < len(r.data) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.idx-1], nil
}

func (r *fakeRows) RawValues() [][]byte {
	return nil
}

func (r *fakeRows) Conn() *pgx.Conn {
	return nil
}

// newTestFactory builds a factory whose connections share the given fake
// handle.
func newTestFactory(t *testing.T, defaults *Options, h Handle, fopts ...FactoryOption) *Factory {
	t.Helper()
	opener := func(opts *Options) (Handle, error) { return h, nil }
	f, err := NewFactory(defaults, append(fopts, withOpener(opener))...)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	return f
}

func newTestConnection(t *testing.T, defaults *Options, h Handle) *Connection {
	t.Helper()
	f := newTestFactory(t, defaults, h)
	conn, err := f.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return conn
}

/*
Package connkit manages the lifecycle of individual PostgreSQL connections.

connkit layers lifecycle management on top of pgx:
  - Open/close with idempotent semantics and idle auto-close
  - Transaction control with isolation levels and named savepoints
  - Parameterized execution with named (@name) parameters
  - A bounded, thread-safe action history for diagnostics
  - Primary connections exempt from auto-close, with pool purge on disposal
  - Health check and server identity utilities
  - Configurable observability (logging, metrics, tracing)

# Basic Usage

	opts := connkit.DefaultOptions()
	opts.Host = "db.internal"
	opts.Database = "app"
	opts.Username = "app"
	opts.Password = os.Getenv("DB_PASSWORD")

	factory, err := connkit.NewFactory(opts, connkit.WithLogger(slog.Default()))
	if err != nil {
	    log.Fatal(err)
	}

	conn, err := factory.NewConnection()
	if err != nil {
	    log.Fatal(err)
	}
	defer conn.Dispose()

	affected, err := conn.ExecContext(ctx,
	    "UPDATE users SET active = @active WHERE id = @id",
	    connkit.Params{"active": true, "id": 42})

# Transactions and Savepoints

	if err := conn.BeginTx(ctx, pgx.Serializable); err != nil {
	    return err
	}

	_, err = conn.ExecContext(ctx, "INSERT INTO events (kind) VALUES (@kind)",
	    connkit.Params{"kind": "first"})

	if err := conn.SavepointContext(ctx, "before_second"); err != nil {
	    return err
	}

	// ... more work, then undo just the second part:
	if err := conn.RollbackToSavepointContext(ctx, "before_second"); err != nil {
	    return err
	}

	return conn.CommitContext(ctx)

Commit and Rollback are no-ops without an active transaction, and the
transaction state is cleared even when the driver call fails, so a
connection never sticks in a transactional state.

# Idle Auto-Close

Non-primary connections close their physical connection after
Options.AutoCloseTimeout of inactivity. Every successful operation resets
the timer, and an active transaction suppresses auto-close entirely. A
later operation transparently re-opens the connection. Long-lived
connections should come from NewPrimaryConnection, which disables the
timer and purges the driver's pool for the connection's identity on
disposal.

# Typed Scalars

	count, err := connkit.Scalar[int64](ctx, conn,
	    "SELECT count(*) FROM users WHERE active = @active",
	    connkit.Params{"active": true})

A bool target accepts integer-like results (nonzero means true), covering
result rows that carry 0/1 where a boolean is meant.

# Error Handling

Driver errors propagate unchanged; connkit adds errors only for the states
it owns:

	if connkit.IsDisposed(err) {
	    // connection was already disposed
	}
	if connkit.IsInvalidOperation(err) {
	    // e.g. savepoint without an active transaction
	}
	if connkit.IsRetryable(err) {
	    // serialization failure or deadlock from the server
	}
*/
package connkit

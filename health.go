package connkit

import (
	"context"
	"time"
)

// HealthStatus reports the outcome of a liveness probe
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Message string        `json:"message"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// ServerInfo carries identity metadata about the server
type ServerInfo struct {
	Version    string `json:"version"`
	Database   string `json:"database"`
	User       string `json:"user"`
	BackendPID int    `json:"backend_pid"`
}

// Health probes liveness with a fresh connection and a trivial query,
// measuring elapsed wall time. The probe connection is always disposed.
// Cancellation is honored before any I/O.
func (f *Factory) Health(ctx context.Context) HealthStatus {
	if err := ctx.Err(); err != nil {
		return HealthStatus{Healthy: false, Message: "probe canceled", Error: err.Error()}
	}

	start := time.Now()

	conn, err := f.NewConnection()
	if err != nil {
		return HealthStatus{
			Healthy: false,
			Message: "failed to create probe connection",
			Latency: time.Since(start),
			Error:   err.Error(),
		}
	}
	defer func() { _ = conn.DisposeContext(ctx) }()

	if _, err := conn.QueryScalarContext(ctx, "SELECT 1", nil); err != nil {
		return HealthStatus{
			Healthy: false,
			Message: "liveness query failed",
			Latency: time.Since(start),
			Error:   err.Error(),
		}
	}

	return HealthStatus{
		Healthy: true,
		Message: "database is reachable",
		Latency: time.Since(start),
	}
}

// IsHealthy returns true if the database is reachable
func (f *Factory) IsHealthy(ctx context.Context) bool {
	return f.Health(ctx).Healthy
}

// ServerInfo gathers server identity metadata via scalar queries on a
// fresh connection. Cancellation is honored before any I/O.
func (f *Factory) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := f.NewConnection()
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.DisposeContext(ctx) }()

	version, err := Scalar[string](ctx, conn, "SELECT version()", nil)
	if err != nil {
		return nil, err
	}
	database, err := Scalar[string](ctx, conn, "SELECT current_database()", nil)
	if err != nil {
		return nil, err
	}
	user, err := Scalar[string](ctx, conn, "SELECT current_user", nil)
	if err != nil {
		return nil, err
	}
	pid, err := Scalar[int](ctx, conn, "SELECT pg_backend_pid()", nil)
	if err != nil {
		return nil, err
	}

	return &ServerInfo{
		Version:    version,
		Database:   database,
		User:       user,
		BackendPID: pid,
	}, nil
}

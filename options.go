package connkit

import (
	"fmt"
	"strings"
	"time"
)

// SSLMode is the libpq sslmode applied when Options.UseSSL is true.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLAllow      SSLMode = "allow"
	SSLPrefer     SSLMode = "prefer"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

func (m SSLMode) valid() bool {
	switch m {
	case SSLDisable, SSLAllow, SSLPrefer, SSLRequire, SSLVerifyCA, SSLVerifyFull:
		return true
	}
	return false
}

// Options holds the configuration for a single connection.
//
// Options is treated as immutable once a Connection has been built from it;
// the factory always hands each connection its own clone so that mutation
// through a configure callback never leaks into the factory defaults.
type Options struct {
	// Discrete connection fields. Ignored when ConnectionString is set.
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// ConnectionString, when non-empty, is used verbatim as the driver
	// connection string and overrides all discrete fields above.
	ConnectionString string

	// Pool settings
	Pooling     bool // acquire the physical connection from a shared pool
	MinPoolSize int
	MaxPoolSize int

	// Timeouts
	ConnectTimeout time.Duration // governs the open attempt
	CommandTimeout time.Duration // applied per execution
	LockTimeout    time.Duration // session lock_timeout applied after open

	// SSL settings. SSLMode exists independently of UseSSL; it is only
	// materialized into the connection string when UseSSL is true.
	UseSSL  bool
	SSLMode SSLMode

	// ApplicationName is reported to the server for pg_stat_activity.
	ApplicationName string

	// Multiplexing is reserved for drivers that support command
	// multiplexing over a single physical connection. It is carried in
	// the options but not materialized into the connection string.
	Multiplexing bool

	// Lifecycle flags
	IsPrimary        bool          // primary connections never auto-close and purge the pool on disposal
	DisableAutoClose bool          // disables the idle-close timer entirely
	AutoCloseTimeout time.Duration // idle period before an unused connection is closed
}

// DefaultOptions returns sensible defaults
func DefaultOptions() *Options {
	return &Options{
		Host:             "localhost",
		Port:             5432,
		Pooling:          true,
		MinPoolSize:      1,
		MaxPoolSize:      20,
		ConnectTimeout:   15 * time.Second,
		CommandTimeout:   30 * time.Second,
		LockTimeout:      10 * time.Second,
		SSLMode:          SSLPrefer,
		AutoCloseTimeout: 5 * time.Minute,
	}
}

// applyDefaults fills in zero values with defaults
func (o *Options) applyDefaults() {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 5432
	}
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = 20
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 30 * time.Second
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = 10 * time.Second
	}
	if o.SSLMode == "" {
		o.SSLMode = SSLPrefer
	}
	if o.AutoCloseTimeout == 0 {
		o.AutoCloseTimeout = 5 * time.Minute
	}
}

// Clone returns a fully independent copy of the options. Mutating either
// copy never affects the other.
func (o *Options) Clone() *Options {
	cp := *o
	return &cp
}

// ConnString builds the driver connection string. If ConnectionString is
// set it is returned verbatim and the discrete fields are ignored.
//
// ConnString is pure: calling it twice without mutating the options yields
// identical output. The only error case is an unrecognized SSLMode while
// UseSSL is true.
func (o *Options) ConnString() (string, error) {
	if o.ConnectionString != "" {
		return o.ConnectionString, nil
	}

	parts := []string{
		"host=" + o.Host,
		fmt.Sprintf("port=%d", o.Port),
	}
	if o.Database != "" {
		parts = append(parts, "dbname="+o.Database)
	}
	if o.Username != "" {
		parts = append(parts, "user="+o.Username)
	}
	if o.Password != "" {
		parts = append(parts, "password="+o.Password)
	}
	if o.ApplicationName != "" {
		parts = append(parts, "application_name="+o.ApplicationName)
	}
	if o.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(o.ConnectTimeout.Seconds())))
	}
	if o.UseSSL {
		if !o.SSLMode.valid() {
			return "", &Error{
				Code:    CodeConfig,
				Message: fmt.Sprintf("unrecognized ssl mode %q", o.SSLMode),
				Op:      "ConnString",
			}
		}
		parts = append(parts, "sslmode="+string(o.SSLMode))
	}

	return strings.Join(parts, " "), nil
}

// WithPrimary marks the options as primary (no idle auto-close)
func (o Options) WithPrimary() Options {
	o.IsPrimary = true
	o.DisableAutoClose = true
	return o
}

// WithPooling enables or disables the shared connection pool
func (o Options) WithPooling(enabled bool) Options {
	o.Pooling = enabled
	return o
}

// WithAutoCloseTimeout sets the idle period before auto-close
func (o Options) WithAutoCloseTimeout(d time.Duration) Options {
	o.AutoCloseTimeout = d
	return o
}

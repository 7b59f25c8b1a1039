package connkit

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/fernandezvara/connkit/hooks"
)

// Factory creates connections from a set of default options. The defaults
// are never handed to a connection directly: every creation path works on
// a clone, so per-connection configuration can never leak back into the
// factory.
type Factory struct {
	defaults *Options
	opener   Opener
	hooks    []hooks.Hook

	logger        *slog.Logger
	logAll        bool
	slowThreshold time.Duration
	registry      prometheus.Registerer
	tracer        trace.Tracer
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger enables action logging and connection diagnostics
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
		f.logAll = true
	}
}

// WithSlowActionLog logs actions slower than the threshold
func WithSlowActionLog(threshold time.Duration) FactoryOption {
	return func(f *Factory) {
		f.slowThreshold = threshold
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(registry prometheus.Registerer) FactoryOption {
	return func(f *Factory) {
		f.registry = registry
	}
}

// WithTracing enables OpenTelemetry tracing
func WithTracing(tracer trace.Tracer) FactoryOption {
	return func(f *Factory) {
		f.tracer = tracer
	}
}

// WithHooks installs additional action hooks on every created connection
func WithHooks(hks ...hooks.Hook) FactoryOption {
	return func(f *Factory) {
		f.hooks = append(f.hooks, hks...)
	}
}

// withOpener substitutes the driver handle constructor. Used by tests.
func withOpener(opener Opener) FactoryOption {
	return func(f *Factory) {
		f.opener = opener
	}
}

// NewFactory creates a connection factory with the given default options
func NewFactory(defaults *Options, fopts ...FactoryOption) (*Factory, error) {
	if defaults == nil {
		return nil, &Error{
			Code:    CodeConfig,
			Message: "default options are required",
			Op:      "NewFactory",
		}
	}

	d := defaults.Clone()
	d.applyDefaults()

	// Surface connection-string problems at construction time rather than
	// on first open.
	if _, err := d.ConnString(); err != nil {
		return nil, err
	}

	f := &Factory{
		defaults: d,
		opener:   defaultOpener,
	}
	for _, o := range fopts {
		o(f)
	}

	if f.logger != nil {
		f.hooks = append(f.hooks, hooks.NewLoggerHook(f.logger, f.logAll, f.slowThreshold))
	}
	if f.registry != nil {
		mh, err := hooks.NewMetricsHook(f.registry)
		if err != nil {
			return nil, &Error{
				Code:    CodeConfig,
				Message: "failed to create metrics hook",
				Op:      "NewFactory",
				Cause:   err,
			}
		}
		f.hooks = append(f.hooks, mh)
	}
	if f.tracer != nil {
		f.hooks = append(f.hooks, hooks.NewTracingHook(f.tracer))
	}

	return f, nil
}

// Defaults returns a copy of the factory's default options
func (f *Factory) Defaults() *Options {
	return f.defaults.Clone()
}

// NewConnection creates a connection from a clone of the default options
func (f *Factory) NewConnection() (*Connection, error) {
	return f.build(f.defaults.Clone())
}

// NewConnectionFrom creates a connection from caller-supplied options
func (f *Factory) NewConnectionFrom(opts *Options) (*Connection, error) {
	if opts == nil {
		return nil, &Error{
			Code:    CodeConfig,
			Message: "options are required",
			Op:      "NewConnectionFrom",
		}
	}
	return f.build(opts.Clone())
}

// NewConnectionWith clones the default options, applies the configure
// callback to the clone, and creates a connection from the result
func (f *Factory) NewConnectionWith(configure func(*Options)) (*Connection, error) {
	if configure == nil {
		return nil, &Error{
			Code:    CodeConfig,
			Message: "configure callback is required",
			Op:      "NewConnectionWith",
		}
	}
	opts := f.defaults.Clone()
	configure(opts)
	return f.build(opts)
}

// NewPrimaryConnection creates a long-lived connection that never idles
// out: IsPrimary and DisableAutoClose are forced regardless of the
// defaults' own flags
func (f *Factory) NewPrimaryConnection() (*Connection, error) {
	opts := f.defaults.Clone()
	opts.IsPrimary = true
	opts.DisableAutoClose = true
	return f.build(opts)
}

func (f *Factory) build(opts *Options) (*Connection, error) {
	opts.applyDefaults()
	handle, err := f.opener(opts)
	if err != nil {
		return nil, err
	}
	return newConnection(opts, handle, f.logger, f.hooks), nil
}

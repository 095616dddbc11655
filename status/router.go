package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/metric"
)

// Default log throttling for rejected messages, per category
const (
	DefaultLogInterval = 10 * time.Second
	DefaultLogBurst    = 5
)

// Observer is told about every message the router accepts or rejects
type Observer interface {
	ObserveMessage(category string)
	ObserveError(category string)
}

// Option configures a Router
type Option func(*Router)

// WithCompat selects the historical or corrected metric layout
func WithCompat(compat Compat) Option {
	return func(r *Router) {
		r.compat = compat
	}
}

// WithLogger sets the router logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver reports accepted and rejected messages to obs
func WithObserver(obs Observer) Option {
	return func(r *Router) {
		r.observer = obs
	}
}

// WithLogRate throttles rejected-message logs to one per interval per
// category after an initial burst.
func WithLogRate(interval time.Duration, burst int) Option {
	return func(r *Router) {
		if interval > 0 {
			r.logLimit = rate.Every(interval)
		}
		if burst > 0 {
			r.logBurst = burst
		}
	}
}

// Router is the lookup table from category to handler. Handlers run
// synchronously on the caller's goroutine.
type Router struct {
	gauges   *Gauges
	compat   Compat
	schemas  map[Category]*gojsonschema.Schema
	handlers map[Category]handler
	metrics  *metric.Metrics
	observer Observer
	logger   *slog.Logger

	logLimit rate.Limit
	logBurst int
}

// NewRouter defines the Assemblyline gauges on registry and returns a router
// that writes into them.
func NewRouter(registry *metric.MetricsRegistry, opts ...Option) (*Router, error) {
	r := &Router{
		metrics:  registry.CoreMetrics(),
		logger:   slog.Default(),
		logLimit: rate.Every(DefaultLogInterval),
		logBurst: DefaultLogBurst,
	}
	for _, opt := range opts {
		opt(r)
	}

	gauges, err := NewGauges(registry, r.compat)
	if err != nil {
		return nil, errors.Wrap(err, "Router", "NewRouter", "define gauges")
	}
	r.gauges = gauges

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	r.schemas = schemas
	r.handlers = r.handlerTable()

	return r, nil
}

// Gauges returns the gauges the router writes
func (r *Router) Gauges() *Gauges {
	return r.gauges
}

// Dispatch validates payload against the category's schema and applies the
// category's mapping. A rejected message writes nothing. Handler panics are
// recovered and returned as fatal-class errors.
func (r *Router) Dispatch(ctx context.Context, category Category, payload []byte) error {
	h, ok := r.handlers[category]
	if !ok {
		r.metrics.RecordMessageDropped(string(category), metric.ReasonUnknown)
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownCategory, category),
			"Router", "Dispatch", "lookup handler")
	}

	r.metrics.RecordMessageReceived(string(category))
	start := time.Now()

	if err := r.apply(category, h, payload); err != nil {
		reason := metric.ReasonInvalid
		if errors.Is(err, errors.ErrHandlerPanic) {
			reason = metric.ReasonPanic
		}
		r.metrics.RecordMessageDropped(string(category), reason)
		if r.observer != nil {
			r.observer.ObserveError(string(category))
		}
		return err
	}

	r.metrics.RecordProcessingDuration(string(category), time.Since(start))
	if r.observer != nil {
		r.observer.ObserveMessage(string(category))
	}
	r.logger.DebugContext(ctx, "Status message mapped", "category", category)
	return nil
}

func (r *Router) apply(category Category, h handler, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.WrapFatal(
				fmt.Errorf("%w: %v", errors.ErrHandlerPanic, rec),
				"Router", "Dispatch", fmt.Sprintf("map %s message", category))
		}
	}()

	if err := validate(r.schemas[category], category, payload); err != nil {
		return errors.WrapInvalid(err, "Router", "Dispatch",
			fmt.Sprintf("validate %s message", category))
	}
	if err := h(payload); err != nil {
		return errors.WrapInvalid(err, "Router", "Dispatch",
			fmt.Sprintf("decode %s message", category))
	}
	return nil
}

// Callback receives one message body for the category it was registered for
type Callback func(ctx context.Context, payload []byte)

// Callbacks returns one callback per known category for a Feed. Callbacks
// never return failures to the transport; rejected messages are logged, with
// repeated failures per category throttled.
func (r *Router) Callbacks() map[Category]Callback {
	callbacks := make(map[Category]Callback, len(allCategories))
	for _, category := range allCategories {
		callbacks[category] = r.callback(category)
	}
	return callbacks
}

func (r *Router) callback(category Category) Callback {
	limiter := rate.NewLimiter(r.logLimit, r.logBurst)
	var suppressed atomic.Int64

	return func(ctx context.Context, payload []byte) {
		err := r.Dispatch(ctx, category, payload)
		if err == nil {
			return
		}
		if !limiter.Allow() {
			suppressed.Add(1)
			return
		}

		attrs := []any{"category", category, "error", err}
		var msgErr *MessageError
		if errors.As(err, &msgErr) && msgErr.Field != "" {
			attrs = append(attrs, "field", msgErr.Field)
		}
		if n := suppressed.Swap(0); n > 0 {
			attrs = append(attrs, "suppressed", n)
		}

		if errors.IsFatal(err) {
			r.logger.ErrorContext(ctx, "Status handler panicked", attrs...)
			return
		}
		r.logger.WarnContext(ctx, "Dropped malformed status message", attrs...)
	}
}

// Package verify drives resume and durability scenarios against a change-event source.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/changeverify/pkg/collector"
	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/fault"
	"github.com/wilhg/changeverify/pkg/store"
)

const (
	DefaultIterations         = 5
	DefaultDisconnectDuration = 5 * time.Second
	DefaultEventTimeout       = 10 * time.Second
)

// Runner sequences setup, appends, collection, fault injection and resumption.
// A Runner drives one scenario at a time; each stream it opens has exactly
// one consumer.
type Runner struct {
	src      store.Source
	injector fault.Injector
	logger   *slog.Logger

	iterations   int
	disconnect   time.Duration
	eventTimeout time.Duration
	now          func() time.Time
}

// RunnerOption configures the Runner at construction time.
type RunnerOption func(*Runner)

// WithIterations sets the number of events appended per phase of the resume scenario.
func WithIterations(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.iterations = n
		}
	}
}

// WithDisconnectDuration sets the simulated partition length.
func WithDisconnectDuration(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.disconnect = d
		}
	}
}

// WithEventTimeout bounds the wait for each collected event.
func WithEventTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.eventTimeout = d
		}
	}
}

// WithInjector replaces the fault injector, e.g. to pause on a fake clock.
func WithInjector(inj fault.Injector) RunnerOption {
	return func(r *Runner) { r.injector = inj }
}

// WithLogger sets the structured logger; nil discards output.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l == nil {
			l = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		r.logger = l
	}
}

// WithClock sets the clock used for document timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a new Runner.
func NewRunner(src store.Source, opts ...RunnerOption) *Runner {
	r := &Runner{
		src:          src,
		logger:       slog.Default(),
		iterations:   DefaultIterations,
		disconnect:   DefaultDisconnectDuration,
		eventTimeout: DefaultEventTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup resets the source. Failure is a setup-category error and must abort the run.
func (r *Runner) Setup(ctx context.Context) error {
	if err := r.src.Reset(ctx); err != nil {
		return errmodel.Setup("reset_failed", "cannot prepare event source", nil, err)
	}
	r.logger.InfoContext(ctx, "Test collection setup complete")
	return nil
}

// RunAll runs setup and both scenarios. The only error it returns is a setup
// failure; scenario failures are reported in Results.
func (r *Runner) RunAll(ctx context.Context) (Results, error) {
	tr := otel.Tracer("verify/runner")
	ctx, span := tr.Start(ctx, "Runner.RunAll", trace.WithAttributes(
		attribute.Int("iterations", r.iterations),
		attribute.String("disconnect", r.disconnect.String()),
	))
	defer span.End()

	if err := r.Setup(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		return Results{}, err
	}
	res := Results{
		ResumeTokenTest: r.ResumeTokenTest(ctx),
		DurabilityTest:  r.DurabilityTest(ctx),
	}
	span.SetAttributes(attribute.Bool("passed", res.Passed()))
	return res, nil
}

// scenario tracks one run through the state machine.
type scenario struct {
	name   string
	state  State
	span   trace.Span
	logger *slog.Logger
	result TestResult
}

func (r *Runner) begin(ctx context.Context, name string) (context.Context, *scenario) {
	ctx, span := otel.Tracer("verify/runner").Start(ctx, "Runner."+name)
	return ctx, &scenario{
		name:   name,
		state:  StateIdle,
		span:   span,
		logger: r.logger.With("scenario", name),
		result: TestResult{Name: name, State: StateIdle},
	}
}

func (s *scenario) advance(ctx context.Context, to State) {
	s.logger.DebugContext(ctx, "state transition", "from", string(s.state), "to", string(to))
	s.span.AddEvent("state", trace.WithAttributes(attribute.String("from", string(s.state)), attribute.String("to", string(to))))
	s.state = to
}

func (s *scenario) diagnose(format string, args ...any) {
	s.result.Diagnostics = append(s.result.Diagnostics, fmt.Sprintf(format, args...))
}

// fail moves to the failed state and freezes the result.
func (s *scenario) fail(ctx context.Context, err error) TestResult {
	ce := errmodel.From(err)
	s.advance(ctx, StateFailed)
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, ce.Error())
	s.span.End()
	s.result.State = StateFailed
	s.result.Success = false
	s.result.Error = ce
	return s.result
}

func (s *scenario) verified(ctx context.Context) TestResult {
	s.advance(ctx, StateVerified)
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
	s.result.State = StateVerified
	s.result.Success = true
	return s.result
}

// collectFrom wraps collector.Collect, turning a closed stream into a hard failure.
func (r *Runner) collectFrom(ctx context.Context, s store.Stream, n int) (collector.Batch, error) {
	b, err := collector.Collect(ctx, s, n, r.eventTimeout)
	if err != nil {
		return b, err
	}
	if b.Stop == collector.StopClosed {
		return b, b.Interrupt
	}
	return b, nil
}

func (r *Runner) appendDoc(ctx context.Context, payload map[string]any) (store.Event, error) {
	payload["timestamp"] = r.now().UTC()
	ev, err := r.src.Append(ctx, payload)
	if err != nil {
		return store.Event{}, fmt.Errorf("append: %w", err)
	}
	return ev, nil
}

// Package pipeline drives missions from prompt to verified build.
//
// Each dispatched mission runs on its own goroutine through the phases
// architect, validate, build (with healing), publish and finalize. Every
// status transition is persisted before it is broadcast, so a subscriber
// never observes a status the store does not know about.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/Jarvis2021/gantry-sub000/internal/deployer"
	"github.com/Jarvis2021/gantry-sub000/internal/events"
	"github.com/Jarvis2021/gantry-sub000/internal/foundry"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/Jarvis2021/gantry-sub000/internal/policy"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/Jarvis2021/gantry-sub000/internal/pipeline"

// DefaultMaxRetries is the total number of build attempts per mission.
const DefaultMaxRetries = 3

// abortMessageLimit bounds the error text embedded in CRITICAL_FAILURE.
const abortMessageLimit = 100

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("pipeline closed")

// Validator checks a manifest before it is built.
type Validator interface {
	Validate(ctx context.Context, m *manifest.Manifest) error
}

// Builder runs one build attempt.
type Builder interface {
	Build(ctx context.Context, m *manifest.Manifest, missionID string, attemptNo int, deploy bool) (*foundry.BuildResult, error)
}

// Publisher pushes a verified build to a code host.
type Publisher interface {
	IsConfigured() bool
	Publish(ctx context.Context, m *manifest.Manifest, evidencePath, missionID string) (string, error)
}

// Metrics receives mission counters. *telemetry.Metrics implements it.
type Metrics interface {
	RecordHeal()
	RecordMission(status string)
	MissionStarted()
	MissionFinished()
}

// Options are per-dispatch switches.
type Options struct {
	Deploy  bool
	Publish bool
	// History is prior conversation passed to the architect.
	History []architect.Turn
}

// Pipeline orchestrates missions.
type Pipeline struct {
	store     mission.Store
	architect architect.Client
	gate      Validator
	builder   Builder
	publisher Publisher
	sink      events.Sink
	scrubber  secrets.Scrubber
	metrics   Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time

	maxRetries  int
	skipPublish bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu   sync.Mutex
	done map[string]chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher enables the publish phase.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithSink sets where status events are broadcast.
func WithSink(s events.Sink) Option {
	return func(pl *Pipeline) { pl.sink = s }
}

// WithScrubber sets the scrubber applied to user-facing messages.
func WithScrubber(s secrets.Scrubber) Option {
	return func(pl *Pipeline) { pl.scrubber = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(pl *Pipeline) { pl.tracer = t }
}

// WithMaxRetries sets the number of build attempts per mission.
func WithMaxRetries(n int) Option {
	return func(pl *Pipeline) { pl.maxRetries = n }
}

// WithSkipPublish disables publishing regardless of per-dispatch options.
func WithSkipPublish(skip bool) Option {
	return func(pl *Pipeline) { pl.skipPublish = skip }
}

// New creates a Pipeline.
func New(store mission.Store, arch architect.Client, gate Validator, builder Builder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("mission store is required")
	}
	if arch == nil {
		return nil, errors.New("architect is required")
	}
	if gate == nil {
		return nil, errors.New("policy gate is required")
	}
	if builder == nil {
		return nil, errors.New("builder is required")
	}

	p := &Pipeline{
		store:      store,
		architect:  arch,
		gate:       gate,
		builder:    builder,
		sink:       events.Discard{},
		scrubber:   &secrets.NoopScrubber{},
		metrics:    nopMetrics{},
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
		done:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxRetries < 1 {
		return nil, fmt.Errorf("max retries must be >= 1, got %d", p.maxRetries)
	}
	p.base, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Dispatch creates a PENDING mission and starts it in the background. It
// returns the mission ID as soon as the mission is persisted.
//
// The mission outlives ctx; only Close cancels running missions.
func (p *Pipeline) Dispatch(ctx context.Context, prompt string, opts Options) (string, error) {
	if p.closed.Load() {
		return "", ErrClosed
	}

	m, err := p.store.Create(ctx, prompt, opts.History)
	if err != nil {
		return "", fmt.Errorf("failed to create mission: %w", err)
	}

	done := make(chan struct{})
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.done[m.ID] = done
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(m.ID, prompt, opts, done)

	p.logger.Info(ctx, "mission dispatched",
		zap.String("mission_id", m.ID),
		zap.Bool("deploy", opts.Deploy),
		zap.Bool("publish", opts.Publish),
	)
	return m.ID, nil
}

// Await blocks until the mission finishes or ctx is done, then returns its
// stored state.
func (p *Pipeline) Await(ctx context.Context, missionID string) (*mission.Mission, error) {
	p.mu.Lock()
	done, ok := p.done[missionID]
	p.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.store.Get(ctx, missionID)
}

// Wait blocks until every in-flight mission has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close stops accepting missions, cancels the running ones and waits for
// them to reach a terminal status or ctx to expire.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed.Store(true)
	p.mu.Unlock()
	p.cancel()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for missions: %w", ctx.Err())
	}
}

// MaxRetries returns the configured number of build attempts.
func (p *Pipeline) MaxRetries() int {
	return p.maxRetries
}

func (p *Pipeline) run(id, prompt string, opts Options, done chan struct{}) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.done, id)
		p.mu.Unlock()
		close(done)
	}()

	p.metrics.MissionStarted()
	defer p.metrics.MissionFinished()

	ctx := logging.WithMission(p.base, id, 0)
	ctx, span := p.tracer.Start(ctx, "pipeline.mission", trace.WithAttributes(
		attribute.String("mission.id", id),
		attribute.Bool("mission.deploy", opts.Deploy),
		attribute.Bool("mission.publish", opts.Publish),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.logger.Error(ctx, "mission panicked",
				zap.String("mission_id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			p.abort(ctx, id, err)
		}
	}()

	if err := p.execute(ctx, id, prompt, opts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "mission aborted", zap.String("mission_id", id), zap.Error(err))
		p.abort(ctx, id, err)
	}
}

// execute runs the phases in order. A nil error with an early return means
// a phase already recorded a terminal status.
func (p *Pipeline) execute(ctx context.Context, id, prompt string, opts Options) error {
	m, err := p.draft(ctx, id, prompt, opts.History)
	if err != nil || m == nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	allowed, err := p.validate(ctx, id, m, "Running security check.")
	if err != nil || !allowed {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	res, built, err := p.build(ctx, id, m, opts.Deploy)
	if err != nil || res == nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	repoURL, err := p.publish(ctx, id, built, res, opts.Publish)
	if err != nil {
		return err
	}

	return p.finalize(ctx, id, res.DeployURL, repoURL)
}

func (p *Pipeline) draft(ctx context.Context, id, prompt string, history []architect.Turn) (*manifest.Manifest, error) {
	if err := p.transition(ctx, id, mission.StatusArchitecting, "Drafting blueprint."); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.draft")
	defer span.End()

	m, err := p.architect.Draft(ctx, prompt, history)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, architect.ErrDraft) {
			return nil, err
		}
		p.logger.Warn(ctx, "blueprint generation failed", zap.String("mission_id", id), zap.Error(err))
		return nil, p.transition(ctx, id, mission.StatusFailed, "Blueprint generation failed.")
	}
	span.SetAttributes(attribute.String("mission.project", m.ProjectName))
	return m, nil
}

// validate reports whether m passed the gate. A violation is recorded as
// BLOCKED and never retried.
func (p *Pipeline) validate(ctx context.Context, id string, m *manifest.Manifest, message string) (bool, error) {
	if message != "" {
		if err := p.transition(ctx, id, mission.StatusValidating, message); err != nil {
			return false, err
		}
	}

	err := p.gate.Validate(ctx, m)
	if err == nil {
		return true, nil
	}
	var violation *policy.Violation
	if !errors.As(err, &violation) {
		return false, err
	}
	p.logger.Warn(ctx, "mission blocked by policy",
		zap.String("mission_id", id),
		zap.String("rule", string(violation.Rule)),
	)
	return false, p.transition(ctx, id, mission.StatusBlocked, "Request denied. Policy violation.")
}

// build runs up to maxRetries attempts, healing between them. It returns the
// result together with the manifest that produced it, or nil when a terminal
// status was recorded.
func (p *Pipeline) build(ctx context.Context, id string, m *manifest.Manifest, deploy bool) (*foundry.BuildResult, *manifest.Manifest, error) {
	current := m
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if _, err := p.store.IncrementAttempts(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("failed to record attempt: %w", err)
		}
		msg := fmt.Sprintf("Building %s. Attempt %d.", current.ProjectName, attempt)
		if err := p.transition(ctx, id, mission.StatusBuilding, msg); err != nil {
			return nil, nil, err
		}

		res, err := p.builder.Build(logging.WithMission(ctx, id, attempt), current, id, attempt, deploy)
		if err == nil {
			return res, current, nil
		}

		var timeout *foundry.BuildTimeoutError
		if errors.As(err, &timeout) {
			p.logger.Warn(ctx, "build timed out",
				zap.String("mission_id", id),
				zap.Int("attempt", attempt),
				zap.Duration("timeout", timeout.Timeout),
			)
			return nil, nil, p.transition(ctx, id, mission.StatusTimeout, "Dead man's switch triggered.")
		}

		errorLog, healable := healInput(err)
		if !healable {
			return nil, nil, err
		}
		p.logger.Warn(ctx, "build attempt failed",
			zap.String("mission_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == p.maxRetries {
			break
		}

		healed, err := p.heal(ctx, id, current, p.scrubber.Scrub(errorLog).Scrubbed, attempt)
		if err != nil {
			return nil, nil, err
		}
		if healed == nil {
			break
		}

		// A repaired manifest is held to the same policy as the draft.
		allowed, err := p.validate(ctx, id, healed, "")
		if err != nil || !allowed {
			return nil, nil, err
		}
		current = healed
	}

	msg := fmt.Sprintf("Build failed after %d attempts.", p.maxRetries)
	return nil, nil, p.transition(ctx, id, mission.StatusFailed, msg)
}

// heal asks the architect to repair m. A nil manifest with a nil error means
// the architect could not produce a usable manifest and the loop should
// stop. Cancellation and any other error are returned.
func (p *Pipeline) heal(ctx context.Context, id string, m *manifest.Manifest, errorLog string, attempt int) (*manifest.Manifest, error) {
	msg := fmt.Sprintf("Build failed. Self-repair attempt %d of %d.", attempt, p.maxRetries-1)
	if err := p.transition(ctx, id, mission.StatusHealing, msg); err != nil {
		return nil, err
	}
	p.metrics.RecordHeal()

	ctx, span := p.tracer.Start(ctx, "pipeline.heal", trace.WithAttributes(
		attribute.Int("mission.attempt", attempt),
	))
	defer span.End()

	healed, err := p.architect.Heal(ctx, m, errorLog)
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, architect.ErrDraft) {
			return nil, fmt.Errorf("self-repair: %w", err)
		}
		p.logger.Warn(ctx, "self-repair failed", zap.String("mission_id", id), zap.Error(err))
		return nil, nil
	}
	return healed, nil
}

// healInput extracts the log handed to the architect. Only audit and
// deployment failures are repairable. foundry.Executor records deploy
// failures and keeps the pass, so the deployer branch is reached only by
// builders that surface them.
func healInput(err error) (string, bool) {
	var audit *foundry.AuditFailedError
	if errors.As(err, &audit) {
		if audit.Output != "" {
			return audit.Output, true
		}
		return audit.Error(), true
	}
	var deploy *deployer.Error
	if errors.As(err, &deploy) {
		return deploy.Error(), true
	}
	return "", false
}

// publish returns the repository URL, or "" when publishing was skipped or
// failed. Publish failures never fail the mission.
func (p *Pipeline) publish(ctx context.Context, id string, m *manifest.Manifest, res *foundry.BuildResult, requested bool) (string, error) {
	if !requested || p.skipPublish {
		return "", nil
	}
	if p.publisher == nil || !p.publisher.IsConfigured() {
		p.logger.Info(ctx, "publishing requested but not configured", zap.String("mission_id", id))
		return "", nil
	}
	if err := p.transition(ctx, id, mission.StatusPublishing, "Publishing to GitHub."); err != nil {
		return "", err
	}

	repoURL, err := p.publisher.Publish(ctx, m, res.EvidencePath, id)
	if err != nil {
		p.logger.Warn(ctx, "publish failed",
			zap.String("mission_id", id),
			zap.String("error", p.scrubber.Scrub(err.Error()).Scrubbed),
		)
		return "", nil
	}
	return repoURL, nil
}

func (p *Pipeline) finalize(ctx context.Context, id, deployURL, repoURL string) error {
	switch {
	case deployURL != "" && repoURL != "":
		return p.transition(ctx, id, mission.StatusDeployed,
			fmt.Sprintf("Gantry successful. Live at %s. Published to %s.", deployURL, repoURL))
	case deployURL != "":
		return p.transition(ctx, id, mission.StatusDeployed,
			fmt.Sprintf("Gantry successful. Live at %s", deployURL))
	case repoURL != "":
		return p.transition(ctx, id, mission.StatusPROpened,
			fmt.Sprintf("Gantry successful. Published to %s.", repoURL))
	default:
		return p.transition(ctx, id, mission.StatusSuccess, "Gantry successful. Build verified.")
	}
}

// abort records CRITICAL_FAILURE. It runs on the failure path, so errors are
// only logged.
func (p *Pipeline) abort(ctx context.Context, id string, cause error) {
	msg := "Mission aborted. Error: " + secrets.UserMessage(p.scrubber, cause.Error(), abortMessageLimit)
	if err := p.transition(ctx, id, mission.StatusCriticalFailure, msg); err != nil {
		p.logger.Error(ctx, "failed to record mission abort", zap.String("mission_id", id), zap.Error(err))
	}
}

// transition persists a status change and then broadcasts it. Persistence
// failures are returned; broadcast failures are logged.
func (p *Pipeline) transition(ctx context.Context, id string, status mission.Status, message string) error {
	message = p.scrubber.Scrub(message).Scrubbed
	// Cancelled missions still record how they ended.
	ctx = context.WithoutCancel(ctx)

	if err := p.store.Update(ctx, id, status, message); err != nil {
		return fmt.Errorf("failed to persist status %s: %w", status, err)
	}

	ev := events.Event{
		Type:      events.TypeStatus,
		MissionID: id,
		Status:    string(status),
		Message:   message,
		Timestamp: p.now().UTC(),
	}
	if err := p.sink.Broadcast(ctx, id, ev); err != nil {
		p.logger.Warn(ctx, "broadcast failed",
			zap.String("mission_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	p.logger.Info(ctx, "mission status",
		zap.String("mission_id", id),
		zap.String("status", string(status)),
		zap.String("message", message),
	)
	if status.Terminal() {
		p.metrics.RecordMission(string(status))
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordHeal()          {}
func (nopMetrics) RecordMission(string) {}
func (nopMetrics) MissionStarted()      {}
func (nopMetrics) MissionFinished()     {}

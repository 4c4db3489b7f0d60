package foundry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName   = "github.com/Jarvis2021/gantry-sub000/internal/foundry"
	defaultCleanupTimeout = 30 * time.Second
	eventDetailLimit      = 200
)

// Executor runs build attempts.
type Executor struct {
	sandboxes      Sandboxes
	evidence       EvidenceStore
	deployer       Deployer
	observer       Observer
	timeout        time.Duration
	cleanupTimeout time.Duration
	logger         *logging.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithDeployer enables deployment of passed builds.
func WithDeployer(d Deployer) Option {
	return func(e *Executor) { e.deployer = d }
}

// WithTimeout sets the dead-man's switch deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithObserver reports build outcomes to o.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets the executor's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor.
func New(sandboxes Sandboxes, store EvidenceStore, opts ...Option) (*Executor, error) {
	if sandboxes == nil {
		return nil, errors.New("sandboxes are required")
	}
	if store == nil {
		return nil, errors.New("evidence store is required")
	}
	e := &Executor{
		sandboxes:      sandboxes,
		evidence:       store,
		timeout:        DefaultTimeout,
		cleanupTimeout: defaultCleanupTimeout,
		logger:         logging.NewNop(),
		tracer:         otel.Tracer(instrumentationName),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", e.timeout)
	}
	return e, nil
}

// Timeout returns the dead-man's switch deadline.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Build executes one attempt of m. It returns a *BuildTimeoutError when the
// dead-man's switch fires, an *AuditFailedError when the audit or the
// structure check fails, and any other error as-is. Evidence is sealed and
// the sandbox removed before Build returns, whatever the outcome.
func (e *Executor) Build(ctx context.Context, m *manifest.Manifest, missionID string, attemptNo int, deploy bool) (*BuildResult, error) {
	ctx = logging.WithMission(ctx, missionID, attemptNo)
	ctx, span := e.tracer.Start(ctx, "foundry.build", trace.WithAttributes(
		attribute.String("mission.id", missionID),
		attribute.Int("mission.attempt", attemptNo),
		attribute.String("project", m.ProjectName),
		attribute.String("stack", string(m.Stack)),
	))
	defer span.End()
	start := e.now()

	rec, err := e.evidence.Open(ctx, missionID, attemptNo)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence: %w", err)
	}
	a := &attempt{rec: rec, logger: e.logger, cleanupTimeout: e.cleanupTimeout}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timeoutDone := make(chan struct{})
	timer := time.AfterFunc(e.timeout, func() {
		defer close(timeoutDone)
		if !a.win() {
			return
		}
		a.timedOut.Store(true)
		cancel()
		e.logger.Error(ctx, "dead man's switch triggered, killing sandbox", zap.Duration("timeout", e.timeout))
		rec.Log(evidence.EventTimeoutTriggered, fmt.Sprintf("Limit: %s", e.timeout))
		a.finish(evidence.Failed("timeout", -1, "Dead man's switch triggered - build timeout"), true)
	})

	e.logger.Info(ctx, "build started",
		zap.String("project", m.ProjectName),
		zap.Duration("ttl", e.timeout),
	)

	type outcome struct {
		result *BuildResult
		err    error
	}
	runDone := make(chan outcome, 1)
	go func() {
		res, err := e.execute(buildCtx, a, m, missionID, attemptNo, deploy, start)
		runDone <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-runDone:
		if !timer.Stop() {
			<-timeoutDone
		}
	case <-timeoutDone:
		if a.timedOut.Load() {
			// The switch has already killed and removed the sandbox. Give the
			// build goroutine a bounded window to unwind so a sandbox spawned
			// during the race is gone before we return.
			select {
			case <-runDone:
			case <-time.After(e.cleanupTimeout):
				e.logger.Warn(ctx, "build goroutine still unwinding after timeout")
			}
			out = outcome{err: e.timeoutError(rec)}
		} else {
			out = <-runDone
		}
	}

	e.observe(out.err, e.now().Sub(start))
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	return out.result, out.err
}

// execute runs the build steps and concludes the attempt from their result.
// A panic is converted into an error and concluded like one.
func (e *Executor) execute(ctx context.Context, a *attempt, m *manifest.Manifest, missionID string, attemptNo int, deploy bool, start time.Time) (res *BuildResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("build panicked: %v", r)
		}
		res, err = e.settle(ctx, a, res, err, start)
	}()
	return e.run(ctx, a, m, missionID, attemptNo, deploy, start)
}

// settle is the normal path's attempt at concluding. If the dead-man's
// switch got there first every outcome becomes a timeout.
func (e *Executor) settle(ctx context.Context, a *attempt, res *BuildResult, err error, start time.Time) (*BuildResult, error) {
	if a.timedOut.Load() || !a.win() {
		return nil, e.timeoutError(a.rec)
	}

	var auditErr *AuditFailedError
	switch {
	case err == nil:
		a.rec.Log(evidence.EventBuildComplete, fmt.Sprintf("Duration: %.1fs", e.now().Sub(start).Seconds()))
		a.finish(evidence.Passed(a.auditOutput), false)
		e.logger.Info(ctx, "build passed", zap.Duration("duration", res.Duration), zap.String("deploy_url", res.DeployURL))
		return res, nil

	case errors.As(err, &auditErr):
		reason := "audit"
		if auditErr.ExitCode == -1 {
			reason = "structure"
		}
		auditErr.EvidencePath = a.rec.Path()
		a.rec.Log(evidence.EventBuildFailed, reason)
		a.finish(evidence.Failed(reason, auditErr.ExitCode, auditErr.Output), false)
		e.logger.Warn(ctx, "build failed", zap.Int("exit_code", auditErr.ExitCode), zap.String("reason", reason))
		return nil, err

	default:
		a.rec.Log(evidence.EventBuildError, secrets.Truncate(err.Error(), eventDetailLimit))
		a.finish(evidence.Failed("error", -1, err.Error()), false)
		e.logger.Error(ctx, "build error", zap.Error(err))
		return nil, err
	}
}

func (e *Executor) run(ctx context.Context, a *attempt, m *manifest.Manifest, missionID string, attemptNo int, deploy bool, start time.Time) (*BuildResult, error) {
	rec := a.rec
	rec.Log(evidence.EventBuildStarted, m.ProjectName)
	if err := rec.SaveManifest(m); err != nil {
		return nil, err
	}

	rec.Log(evidence.EventPodInit, "")
	img, err := e.sandboxes.ResolveImage(ctx, m.Stack)
	if err != nil {
		return nil, err
	}
	rec.Log(evidence.EventImageReady, img.Ref)

	sb, err := e.sandboxes.Spawn(ctx, sandbox.Name(missionID, attemptNo), img.Ref, map[string]string{
		"gantry.mission": missionID,
		"gantry.attempt": fmt.Sprint(attemptNo),
		"gantry.project": m.ProjectName,
	})
	if err != nil {
		return nil, err
	}
	if !a.adopt(sb) {
		return nil, ctx.Err()
	}
	rec.Log(evidence.EventPodSpawned, shortID(sb.ID()))
	e.logger.Info(ctx, "sandbox active", zap.String("sandbox", sb.Name()), zap.String("image", img.Ref))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := sb.Inject(ctx, m.Files); err != nil {
		return nil, fmt.Errorf("failed to inject files: %w", err)
	}
	rec.Log(evidence.EventFilesInjected, fmt.Sprint(len(m.Files)))

	if err := e.injectDesignReference(ctx, sb, rec, missionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.installDependencies(ctx, sb, rec, m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec.Log(evidence.EventAuditStarted, m.AuditCommand)
	audit, err := sb.Exec(ctx, m.AuditCommand, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to run audit: %w", err)
	}
	if audit.ExitCode != 0 {
		rec.Log(evidence.EventAuditFailed, fmt.Sprintf("Exit code: %d", audit.ExitCode))
		return nil, &AuditFailedError{ExitCode: audit.ExitCode, Output: audit.Output}
	}
	rec.Log(evidence.EventAuditPassed, "")
	a.auditOutput = audit.Output
	duration := e.now().Sub(start)

	if m.Stack.Deployable() {
		if err := e.checkStructure(ctx, sb, rec, m.Stack); err != nil {
			return nil, err
		}
	}

	deployURL := e.deploy(ctx, sb, rec, m.ProjectName, deploy, img.FullFeatured)

	return &BuildResult{
		SandboxID:    shortID(sb.ID()),
		SandboxName:  sb.Name(),
		ProjectName:  m.ProjectName,
		AuditPassed:  true,
		Duration:     duration,
		DeployURL:    deployURL,
		EvidencePath: rec.Path(),
		Image:        img.Ref,
		FullFeatured: img.FullFeatured,
	}, nil
}

func (e *Executor) injectDesignReference(ctx context.Context, sb *sandbox.Sandbox, rec evidence.Recorder, missionID string) error {
	name, data, err := e.evidence.DesignReference(ctx, missionID)
	if errors.Is(err, evidence.ErrNotFound) {
		return nil
	}
	if err != nil {
		e.logger.Warn(ctx, "design reference lookup failed", zap.Error(err))
		return nil
	}
	if err := sb.InjectFile(ctx, "public/"+name, data); err != nil {
		return fmt.Errorf("failed to inject design reference: %w", err)
	}
	rec.Log(evidence.EventDesignImageInjected, name)
	return nil
}

// installDependencies is advisory: failures are recorded as warnings and
// the audit decides the attempt.
func (e *Executor) installDependencies(ctx context.Context, sb *sandbox.Sandbox, rec evidence.Recorder, m *manifest.Manifest) error {
	file, command, ok := dependencyInstall(m)
	if !ok {
		return nil
	}
	rec.Log(evidence.EventDepsInstallStarted, file)
	res, err := sb.Exec(ctx, command, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec.Log(evidence.EventDepsInstallWarning, secrets.Truncate(err.Error(), eventDetailLimit))
		e.logger.Warn(ctx, "dependency install failed", zap.Error(err))
		return nil
	}
	if res.ExitCode != 0 {
		rec.Log(evidence.EventDepsInstallWarning, secrets.Truncate(res.Output, eventDetailLimit))
		e.logger.Warn(ctx, "dependency install warning", zap.Int("exit_code", res.ExitCode))
		return nil
	}
	rec.Log(evidence.EventDepsInstalled, "")
	return nil
}

func dependencyInstall(m *manifest.Manifest) (file, command string, ok bool) {
	switch {
	case m.Stack == manifest.StackPython && m.HasFile("requirements.txt"):
		return "requirements.txt", "pip install -r requirements.txt --quiet", true
	case m.Stack == manifest.StackNode && m.HasFile("package.json"):
		return "package.json", "npm install --silent", true
	}
	return "", "", false
}

func (e *Executor) checkStructure(ctx context.Context, sb *sandbox.Sandbox, rec evidence.Recorder, stack manifest.Stack) error {
	script, ok := structureChecks[stack]
	if !ok {
		return nil
	}
	rec.Log(evidence.EventStructureCheckStarted, "Verifying Vercel format")
	res, err := sb.Exec(ctx, script, nil)
	if err != nil {
		return fmt.Errorf("failed to run structure check: %w", err)
	}
	if res.ExitCode != 0 || !containsMarker(res.Output) {
		rec.Log(evidence.EventStructureCheckFailed, secrets.Truncate(res.Output, eventDetailLimit))
		return &AuditFailedError{ExitCode: -1, Output: StructureFailureMessage}
	}
	rec.Log(evidence.EventStructureCheckPassed, "")
	return nil
}

// deploy runs the deployment collaborator when allowed. Failures are
// recorded and never fail the attempt.
func (e *Executor) deploy(ctx context.Context, sb *sandbox.Sandbox, rec evidence.Recorder, project string, requested, fullFeatured bool) string {
	switch {
	case !requested:
		rec.Log(evidence.EventDeploySkipped, "deploy=false")
		return ""
	case e.deployer == nil || !e.deployer.IsConfigured():
		rec.Log(evidence.EventDeploySkipped, "deployer not configured")
		return ""
	case !fullFeatured:
		rec.Log(evidence.EventDeploySkipped, "builder image unavailable")
		return ""
	}

	rec.Log(evidence.EventDeployStarted, "Vercel")
	url, err := e.deployer.Deploy(ctx, sb, project)
	if err != nil {
		rec.Log(evidence.EventDeployFailed, secrets.Truncate(err.Error(), eventDetailLimit))
		e.logger.Warn(ctx, "deployment failed", zap.Error(err))
		return ""
	}
	rec.Log(evidence.EventDeployComplete, url)
	return url
}

func (e *Executor) timeoutError(rec evidence.Recorder) error {
	return &BuildTimeoutError{Timeout: e.timeout, EvidencePath: rec.Path()}
}

func (e *Executor) observe(err error, d time.Duration) {
	if e.observer == nil {
		return
	}
	var (
		timeoutErr *BuildTimeoutError
		auditErr   *AuditFailedError
	)
	switch {
	case err == nil:
		e.observer.ObserveBuild(OutcomePass, d)
	case errors.As(err, &timeoutErr):
		e.observer.ObserveBuild(OutcomeTimeout, d)
	case errors.As(err, &auditErr):
		e.observer.ObserveBuild(OutcomeAuditFailed, d)
	default:
		e.observer.ObserveBuild(OutcomeError, d)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

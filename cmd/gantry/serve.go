package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/architect"
	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/deployer"
	"github.com/Jarvis2021/gantry-sub000/internal/events"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/foundry"
	gantryhttp "github.com/Jarvis2021/gantry-sub000/internal/http"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/Jarvis2021/gantry-sub000/internal/pipeline"
	"github.com/Jarvis2021/gantry-sub000/internal/policy"
	"github.com/Jarvis2021/gantry-sub000/internal/publisher"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"github.com/Jarvis2021/gantry-sub000/internal/skills"
	"github.com/Jarvis2021/gantry-sub000/internal/storage"
	"github.com/Jarvis2021/gantry-sub000/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// allowListPath is the gitleaks-style allow list applied to the scrubber.
var allowListPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gantry daemon",
	Long: `Run the gantry daemon and its ops HTTP API.

Configuration comes from --config, then GANTRY_* environment variables,
then defaults. A .env file in the working directory is loaded first.

Examples:
  # Start with defaults (in-memory mission store, local evidence)
  gantry serve

  # Start with a config file and a secrets allow list
  gantry serve --config gantry.yaml --allowlist .gitleaks.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err := serve(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&allowListPath, "allowlist", ".gitleaks.toml", "secrets allow list (TOML)")
}

// serve starts gantry and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads configuration and the logger
//  2. Starts telemetry and metrics
//  3. Connects infrastructure (Docker, Postgres, object storage, NATS)
//  4. Wires the build executor, blueprint client and pipeline
//  5. Starts the HTTP server
//  6. On cancellation, stops the server, then drains missions
//
// Returns http.ErrServerClosed on graceful shutdown.
func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting gantry",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("build_timeout", cfg.Sandbox.BuildTimeout.Duration()),
		zap.Int("max_retries", cfg.Pipeline.MaxRetries))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(context.Background())

	srv, err := gantryhttp.NewServer(gantryhttp.Services{
		Pipeline: deps.pipeline,
		Missions: deps.missions,
		Evidence: deps.evidence,
		Hub:      deps.hub,
		Skills:   deps.skills,
		Metrics:  deps.metrics,
		Health:   deps.telemetry,
		Version:  version,
	}, deps.scrubber, logger, &gantryhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http server shutdown failed", zap.Error(err))
	}
	if err := deps.pipeline.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "missions still running at shutdown", zap.Error(err))
	}
	return http.ErrServerClosed
}

// initLogger builds the structured logger from the log section.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg)
}

// dependencies holds everything serve wires together.
type dependencies struct {
	telemetry *telemetry.Telemetry
	metrics   *telemetry.Metrics
	scrubber  secrets.Scrubber
	docker    *sandbox.DockerRuntime
	missions  mission.Store
	postgres  *mission.PostgresStore
	evidence  *evidence.Store
	hub       *events.Hub
	nats      *events.NATSSink
	skills    *skills.Registry
	pipeline  *pipeline.Pipeline
	logger    *logging.Logger
}

// Close releases infrastructure resources in reverse order of creation.
func (d *dependencies) Close(ctx context.Context) {
	if d.hub != nil {
		d.hub.Close()
	}
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			d.logger.Warn(ctx, "nats close failed", zap.Error(err))
		}
	}
	if d.postgres != nil {
		d.postgres.Close()
	}
	if d.docker != nil {
		if err := d.docker.Close(); err != nil {
			d.logger.Warn(ctx, "docker client close failed", zap.Error(err))
		}
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			d.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
}

// initDependencies connects infrastructure and wires the mission pipeline.
// On error every resource opened so far is released.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *dependencies, err error) {
	d := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close(context.Background())
		}
	}()

	d.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	d.metrics = telemetry.NewMetrics()

	d.scrubber, err = initScrubber(allowListPath)
	if err != nil {
		return nil, err
	}

	polCfg, custom, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	gate, err := policy.NewGate(polCfg, policy.WithLogger(logger), policy.WithRecorder(d.metrics))
	if err != nil {
		return nil, fmt.Errorf("policy gate: %w", err)
	}
	logger.Info(ctx, "policy loaded",
		zap.Bool("custom", custom),
		zap.Strings("allowed_stacks", polCfg.AllowedStacks))

	d.docker, err = sandbox.NewDockerRuntime()
	if err != nil {
		return nil, fmt.Errorf("docker: %w", err)
	}
	sandboxes, err := sandbox.NewManager(d.docker, sandbox.ConfigFrom(cfg.Sandbox), logger)
	if err != nil {
		return nil, fmt.Errorf("sandbox manager: %w", err)
	}

	var storeOpts []evidence.StoreOption
	storeOpts = append(storeOpts, evidence.WithLogger(logger))
	if cfg.Storage.Endpoint != "" {
		bucket, err := storage.NewBucket(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		storeOpts = append(storeOpts, evidence.WithMirror(bucket), evidence.WithDesignSource(bucket))
		logger.Info(ctx, "evidence mirroring enabled", zap.String("bucket", bucket.Name()))
	}
	d.evidence, err = evidence.NewStore(cfg.Evidence.Dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("evidence store: %w", err)
	}

	executor, err := foundry.New(sandboxes, d.evidence,
		foundry.WithDeployer(deployer.NewVercel(cfg.Deploy.Token, d.scrubber, logger)),
		foundry.WithTimeout(cfg.Sandbox.BuildTimeout.Duration()),
		foundry.WithObserver(d.metrics),
		foundry.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}

	gemini, err := architect.NewGemini(ctx, cfg.Architect)
	if err != nil {
		return nil, fmt.Errorf("blueprint client: %w", err)
	}
	arch := architect.New(gemini, architect.WithLogger(logger))

	if err := initMissionStore(ctx, cfg, d); err != nil {
		return nil, err
	}

	d.hub = events.NewHub(cfg.Events.BufferSize)
	sink := events.Multi{d.hub}
	if cfg.Events.NATSURL != "" {
		d.nats, err = events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		sink = append(sink, d.nats)
	}

	pub, err := publisher.New(ctx, cfg.Publish,
		publisher.WithScrubber(d.scrubber),
		publisher.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	d.skills, err = skills.NewRegistry(skills.NewConsult(arch, logger))
	if err != nil {
		return nil, fmt.Errorf("skills: %w", err)
	}

	d.pipeline, err = pipeline.New(d.missions, arch, gate, executor,
		pipeline.WithPublisher(pub),
		pipeline.WithSink(sink),
		pipeline.WithScrubber(d.scrubber),
		pipeline.WithMetrics(d.metrics),
		pipeline.WithLogger(logger),
		pipeline.WithTracer(d.telemetry.Tracer("github.com/Jarvis2021/gantry-sub000/internal/pipeline")),
		pipeline.WithMaxRetries(cfg.Pipeline.MaxRetries),
		pipeline.WithSkipPublish(cfg.Pipeline.SkipPublish),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("postgres", d.postgres != nil),
		zap.Bool("nats", d.nats != nil),
		zap.Bool("object_storage", cfg.Storage.Endpoint != ""),
		zap.Bool("deploy_configured", cfg.Deploy.Token.IsSet()),
		zap.Bool("publish_configured", pub.IsConfigured()))

	return d, nil
}

// initMissionStore selects Postgres when a database URL is configured and
// the in-memory store otherwise.
func initMissionStore(ctx context.Context, cfg *config.Config, d *dependencies) error {
	if !cfg.Database.URL.IsSet() {
		d.logger.Warn(ctx, "no database configured, mission history is not persisted")
		d.missions = mission.NewMemoryStore()
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pg, err := mission.NewPostgresStore(connectCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("mission store: %w", err)
	}
	d.postgres = pg
	if err := pg.Migrate(connectCtx); err != nil {
		return fmt.Errorf("mission store migrate: %w", err)
	}
	d.missions = pg
	return nil
}

// initScrubber builds the secret scrubber with the built-in rules plus the
// allow list at path, if present.
func initScrubber(path string) (secrets.Scrubber, error) {
	scfg := secrets.DefaultConfig()
	if path != "" {
		allow, err := secrets.LoadAllowList(path)
		if err != nil {
			return nil, err
		}
		scfg.AllowList = allow
	}
	s, err := secrets.New(scfg)
	if err != nil {
		return nil, fmt.Errorf("secret scrubber: %w", err)
	}
	return s, nil
}

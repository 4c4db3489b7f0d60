// Package config provides configuration loading for gantry.
//
// Configuration is read from an optional YAML file, then overridden by
// GANTRY_-prefixed environment variables, then completed with defaults.
// A handful of well-known variables (GITHUB_TOKEN, VERCEL_TOKEN, ...) are
// honoured without the prefix.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete gantry configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Evidence  EvidenceConfig  `koanf:"evidence"`
	Policy    PolicyConfig    `koanf:"policy"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Architect ArchitectConfig `koanf:"architect"`
	Deploy    DeployConfig    `koanf:"deploy"`
	Publish   PublishConfig   `koanf:"publish"`
	Database  DatabaseConfig  `koanf:"database"`
	Storage   StorageConfig   `koanf:"storage"`
	Events    EventsConfig    `koanf:"events"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SandboxConfig controls build sandboxes.
type SandboxConfig struct {
	BuilderImage   string            `koanf:"builder_image"`
	StackImages    map[string]string `koanf:"stack_images"`
	MemoryMB       int64             `koanf:"memory_mb"`
	BuildTimeout   Duration          `koanf:"build_timeout"`
	WorkDir        string            `koanf:"workdir"`
	ImageCacheSize int               `koanf:"image_cache_size"`
	PullTimeout    Duration          `koanf:"pull_timeout"`
}

// EvidenceConfig controls where evidence is written.
type EvidenceConfig struct {
	Dir string `koanf:"dir"`
}

// PolicyConfig points at the policy document.
type PolicyConfig struct {
	Path string `koanf:"path"`
}

// PipelineConfig controls mission orchestration.
type PipelineConfig struct {
	MaxRetries  int  `koanf:"max_retries"`
	SkipPublish bool `koanf:"skip_publish"`
}

// ArchitectConfig configures the blueprint client.
type ArchitectConfig struct {
	APIKey    Secret   `koanf:"api_key"`
	Model     string   `koanf:"model"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// DeployConfig configures the deployment integration.
type DeployConfig struct {
	Token Secret `koanf:"token"`
}

// PublishConfig configures the source-control integration.
type PublishConfig struct {
	Token       Secret `koanf:"token"`
	Username    string `koanf:"username"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
	Private     bool   `koanf:"private"`
}

// DatabaseConfig configures the mission store. Empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL      Secret `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// StorageConfig configures object storage for evidence mirroring and
// design references. Empty endpoint disables it.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// EventsConfig configures mission status broadcasting.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	BufferSize    int    `koanf:"buffer_size"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
	Insecure     bool    `koanf:"insecure"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format))
	}
	if c.Sandbox.MemoryMB < 64 {
		errs = append(errs, fmt.Errorf("sandbox.memory_mb must be >= 64, got %d", c.Sandbox.MemoryMB))
	}
	if c.Sandbox.BuildTimeout.Duration() < time.Second {
		errs = append(errs, fmt.Errorf("sandbox.build_timeout must be >= 1s, got %s", c.Sandbox.BuildTimeout.Duration()))
	}
	if !strings.HasPrefix(c.Sandbox.WorkDir, "/") {
		errs = append(errs, fmt.Errorf("sandbox.workdir must be absolute, got %q", c.Sandbox.WorkDir))
	}
	if c.Evidence.Dir == "" {
		errs = append(errs, errors.New("evidence.dir is required"))
	}
	if c.Pipeline.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries must be >= 1, got %d", c.Pipeline.MaxRetries))
	}
	if c.Publish.Token.IsSet() != (c.Publish.Username != "") {
		errs = append(errs, errors.New("publish.token and publish.username must be set together"))
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when storage.endpoint is set"))
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be within [0,1], got %v", c.Telemetry.SamplingRate))
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Sandbox.BuilderImage == "" {
		cfg.Sandbox.BuilderImage = "gantry/builder:latest"
	}
	if cfg.Sandbox.StackImages == nil {
		cfg.Sandbox.StackImages = map[string]string{}
	}
	for stack, image := range map[string]string{
		"python": "python:3.11-slim",
		"node":   "node:20-alpine",
		"rust":   "rust:1.75-slim",
	} {
		if cfg.Sandbox.StackImages[stack] == "" {
			cfg.Sandbox.StackImages[stack] = image
		}
	}
	if cfg.Sandbox.MemoryMB == 0 {
		cfg.Sandbox.MemoryMB = 512
	}
	if cfg.Sandbox.BuildTimeout == 0 {
		cfg.Sandbox.BuildTimeout = Duration(180 * time.Second)
	}
	if cfg.Sandbox.WorkDir == "" {
		cfg.Sandbox.WorkDir = "/workspace"
	}
	if cfg.Sandbox.ImageCacheSize == 0 {
		cfg.Sandbox.ImageCacheSize = 64
	}
	if cfg.Sandbox.PullTimeout == 0 {
		cfg.Sandbox.PullTimeout = Duration(10 * time.Minute)
	}

	if cfg.Evidence.Dir == "" {
		cfg.Evidence.Dir = "missions"
	}
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = "policy.yaml"
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}

	if cfg.Architect.Model == "" {
		cfg.Architect.Model = "gemini-2.0-flash"
	}
	if cfg.Architect.Timeout == 0 {
		cfg.Architect.Timeout = Duration(90 * time.Second)
	}
	if cfg.Architect.RateLimit == 0 {
		cfg.Architect.RateLimit = 1
	}
	if cfg.Architect.Burst == 0 {
		cfg.Architect.Burst = 2
	}

	if cfg.Publish.AuthorName == "" {
		cfg.Publish.AuthorName = "Gantry Bot"
	}
	if cfg.Publish.AuthorEmail == "" {
		cfg.Publish.AuthorEmail = "gantry@auto-deploy.local"
	}

	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "gantry.missions"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 64
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "gantry"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}

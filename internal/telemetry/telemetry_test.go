package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local", mutate: func(c *Config) { c.Enabled = true }},
		{name: "missing endpoint", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "" }, wantErr: "endpoint is required"},
		{name: "insecure remote", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, wantErr: "insecure connections"},
		{name: "secure remote", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }},
		{name: "ipv6 loopback", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }},
		{name: "bad protocol", mutate: func(c *Config) { c.Enabled = true; c.Protocol = "thrift" }, wantErr: "unsupported protocol"},
		{name: "bad sampling", mutate: func(c *Config) { c.Enabled = true; c.SamplingRate = 2 }, wantErr: "sampling rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:      true,
		Endpoint:     "http://localhost:4318",
		Protocol:     "http/protobuf",
		ServiceName:  "gantry-test",
		SamplingRate: 0.5,
		Insecure:     true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "gantry-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.5, cfg.SamplingRate)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.True(t, tel.Health().Healthy)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_WithExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	tel, err := New(context.Background(), cfg, WithTraceExporter(exp))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("test").Start(context.Background(), "mission.run")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "mission.run", spans[0].Name)
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.True(t, tel.Health().Degraded)
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()
	_, span := tel.Tracer("test").Start(context.Background(), "foundry.build")
	span.SetAttributes(attribute.String("mission.id", "m-1"))
	span.End()

	tel.AssertSpanExists(t, "foundry.build")
	tel.AssertSpanAttribute(t, "foundry.build", "mission.id", "m-1")
	assert.Nil(t, tel.SpanByName("missing"))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordViolation("forbidden_pattern")
	m.RecordViolation("forbidden_pattern")
	m.ObserveBuild("pass", 12*time.Second)
	m.ObserveBuild("timeout", 180*time.Second)
	m.RecordHeal()
	m.RecordMission("SUCCESS")
	m.MissionStarted()
	m.MissionStarted()
	m.MissionFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PolicyViolations.WithLabelValues("forbidden_pattern")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildAttempts.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Missions.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MissionsInFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.BuildDuration))

	// Instances do not share state.
	other := NewMetrics()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.HealAttempts))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordViolation("x")
		nilMetrics.ObserveBuild("pass", time.Second)
		nilMetrics.RecordHeal()
		nilMetrics.RecordMission("FAILED")
		nilMetrics.MissionStarted()
		nilMetrics.MissionFinished()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordMission("DEPLOYED")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gantry_missions_total{status="DEPLOYED"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "GANTRY_"
)

// Load loads configuration from the YAML file at configPath (optional; a
// missing file is not an error), then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. GANTRY_-prefixed environment variables
//  2. Well-known unprefixed variables (GITHUB_TOKEN, VERCEL_TOKEN, ...)
//  3. YAML config file
//  4. Hardcoded defaults
//
// # Environment Variable Mapping
//
// The prefix is stripped and the remainder split on its first underscore:
//
//	GANTRY_SANDBOX_BUILD_TIMEOUT -> sandbox.build_timeout
//	GANTRY_SERVER_PORT           -> server.port
//	GANTRY_EVENTS_NATS_URL       -> events.nats_url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyWellKnownEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// envKey maps GANTRY_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyWellKnownEnv fills credentials from the conventional variable names
// when the prefixed form did not set them.
func applyWellKnownEnv(cfg *Config) {
	setSecret := func(dst *Secret, key string) {
		if !dst.IsSet() {
			*dst = Secret(strings.TrimSpace(os.Getenv(key)))
		}
	}
	setSecret(&cfg.Publish.Token, "GITHUB_TOKEN")
	setSecret(&cfg.Deploy.Token, "VERCEL_TOKEN")
	setSecret(&cfg.Architect.APIKey, "GEMINI_API_KEY")
	setSecret(&cfg.Database.URL, "DATABASE_URL")

	if cfg.Publish.Username == "" {
		cfg.Publish.Username = strings.TrimSpace(os.Getenv("GITHUB_USERNAME"))
	}
	if strings.EqualFold(os.Getenv("GANTRY_SKIP_PUBLISH"), "true") {
		cfg.Pipeline.SkipPublish = true
	}
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the already-opened descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size. The file
// may carry credentials, so group/world access is rejected.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

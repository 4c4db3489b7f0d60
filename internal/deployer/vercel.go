// Package deployer publishes a built sandbox to Vercel.
//
// Deployment runs inside the sandbox with the Vercel CLI shipped in the
// builder image. The token travels in the exec environment only, never on a
// command line where it would show up in process listings or error output.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Deploy when no token is configured.
var ErrNotConfigured = errors.New("VERCEL_TOKEN not configured")

// Error is a deployment failure. Output is already scrubbed.
type Error struct {
	Op       string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("vercel %s failed: %v", e.Op, e.Err)
	case e.Output != "":
		return fmt.Sprintf("vercel %s failed (exit %d): %s", e.Op, e.ExitCode, e.Output)
	default:
		return fmt.Sprintf("vercel %s failed (exit %d)", e.Op, e.ExitCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Shell runs commands inside a sandbox.
type Shell interface {
	Exec(ctx context.Context, command string, env map[string]string) (sandbox.ExecResult, error)
}

var (
	productionURL = regexp.MustCompile(`Production: (https://\S+)`)
	vercelAppURL  = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.vercel\.app`)
	unsafeName    = regexp.MustCompile(`[^a-z0-9-]`)
)

const maxErrorOutput = 500

// Vercel deploys sandboxes with the Vercel CLI.
type Vercel struct {
	token    config.Secret
	scrubber secrets.Scrubber
	logger   *logging.Logger
}

// NewVercel creates a deployer. An empty token leaves it unconfigured.
func NewVercel(token config.Secret, scrubber secrets.Scrubber, logger *logging.Logger) *Vercel {
	if scrubber == nil {
		scrubber = &secrets.NoopScrubber{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if token.IsSet() {
		logger.Info(context.Background(), "vercel deployment enabled")
	} else {
		logger.Warn(context.Background(), "VERCEL_TOKEN not set, deployment disabled")
	}
	return &Vercel{token: token, scrubber: scrubber, logger: logger}
}

// IsConfigured reports whether a token is available.
func (v *Vercel) IsConfigured() bool {
	return v != nil && v.token.IsSet()
}

// SafeName lowercases name and replaces everything outside [a-z0-9-].
func SafeName(name string) string {
	return unsafeName.ReplaceAllString(strings.ToLower(name), "-")
}

// Deploy links and deploys the sandbox's workspace to production and
// returns the live URL.
func (v *Vercel) Deploy(ctx context.Context, sh Shell, projectName string) (string, error) {
	if !v.IsConfigured() {
		return "", &Error{Op: "deploy", Err: ErrNotConfigured}
	}
	env := map[string]string{"VERCEL_TOKEN": v.token.Value()}
	name := SafeName(projectName)

	v.logger.Info(ctx, "linking vercel project", zap.String("project", name))
	link, err := sh.Exec(ctx, "vercel link --yes", env)
	if err != nil {
		return "", &Error{Op: "link", Err: err}
	}
	if link.ExitCode != 0 {
		// Deploy can still create the project on its own.
		v.logger.Warn(ctx, "vercel link failed", zap.Int("exit_code", link.ExitCode))
	}

	v.logger.Info(ctx, "deploying to production", zap.String("project", name))
	res, err := sh.Exec(ctx, "vercel deploy --prod --yes --name "+name, env)
	if err != nil {
		return "", &Error{Op: "deploy", Err: err}
	}
	output := v.scrubber.Scrub(res.Output).Scrubbed
	if res.ExitCode != 0 {
		return "", &Error{Op: "deploy", ExitCode: res.ExitCode, Output: secrets.Truncate(output, maxErrorOutput)}
	}

	url := ParseURL(output)
	if url == "" {
		return "", &Error{Op: "deploy", Output: "deployment succeeded but URL not found in output"}
	}
	v.logger.Info(ctx, "deployment live", zap.String("url", url))
	return url, nil
}

// ParseURL extracts the production URL from Vercel CLI output.
func ParseURL(output string) string {
	if m := productionURL.FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	return vercelAppURL.FindString(output)
}

// Package publisher pushes audited projects to GitHub.
//
// Only green missions are published: the attempt directory must carry a PASS
// verdict and an intact seal. The publisher re-checks both itself instead of
// trusting the caller.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/evidence"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/Jarvis2021/gantry-sub000/internal/publisher"

// PublishDir is the directory inside an attempt that holds the pushed tree.
const PublishDir = "publish"

const (
	defaultAuthorName  = "Gantry Bot"
	defaultAuthorEmail = "gantry@auto-deploy.local"
	mainBranch         = plumbing.Main
)

var gitignorePatterns = []string{
	"__pycache__/",
	"*.pyc",
	".env",
	"node_modules/",
	".DS_Store",
	"*.log",
	"venv/",
	".venv/",
}

// Publisher pushes a mission's files to a repository named after its project.
type Publisher struct {
	gh          *github.Client
	token       config.Secret
	username    string
	authorName  string
	authorEmail string
	private     bool
	retry       *RetryConfig
	scrubber    secrets.Scrubber
	logger      *logging.Logger
	tracer      trace.Tracer
	remoteURL   func(owner, repo string) string
	now         func() time.Time

	locks sync.Map // project name -> *sync.Mutex
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithGitHubClient replaces the API client built from the token.
func WithGitHubClient(c *github.Client) Option {
	return func(p *Publisher) { p.gh = c }
}

// WithRetryConfig sets the GitHub API retry policy.
func WithRetryConfig(c *RetryConfig) Option {
	return func(p *Publisher) { p.retry = c }
}

// WithScrubber sets the scrubber applied to error messages.
func WithScrubber(s secrets.Scrubber) Option {
	return func(p *Publisher) { p.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithRemoteURL overrides how the push URL is derived.
func WithRemoteURL(fn func(owner, repo string) string) Option {
	return func(p *Publisher) { p.remoteURL = fn }
}

// New creates a Publisher. A publisher without token or username is valid
// but unconfigured; Publish then fails with ErrNotConfigured.
func New(ctx context.Context, cfg config.PublishConfig, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		token:       cfg.Token,
		username:    cfg.Username,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		private:     cfg.Private,
		retry:       DefaultRetryConfig(),
		scrubber:    &secrets.NoopScrubber{},
		logger:      logging.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		remoteURL:   githubRemote,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.authorName == "" {
		p.authorName = defaultAuthorName
	}
	if p.authorEmail == "" {
		p.authorEmail = defaultAuthorEmail
	}
	if p.gh == nil && p.token.IsSet() {
		gh, err := NewGitHubClient(ctx, p.token)
		if err != nil {
			return nil, err
		}
		p.gh = gh
	}
	return p, nil
}

// IsConfigured reports whether both token and username are set.
func (p *Publisher) IsConfigured() bool {
	return p.token.IsSet() && p.username != "" && p.gh != nil
}

// Publish pushes the manifest's files to <username>/<project_name> and
// returns the repository URL. evidencePath is the attempt directory of the
// passing build.
func (p *Publisher) Publish(ctx context.Context, m *manifest.Manifest, evidencePath, missionID string) (url string, err error) {
	ctx, span := p.tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("mission.id", missionID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := p.checkGreen(evidencePath); err != nil {
		var block *SecurityBlock
		if errors.As(err, &block) {
			p.logger.Warn(ctx, "publish blocked",
				zap.String("mission_id", missionID),
				zap.String("reason", block.Reason),
			)
		}
		return "", err
	}
	if !p.IsConfigured() {
		return "", &PublishError{Op: "configure", Message: ErrNotConfigured.Error(), Err: ErrNotConfigured}
	}
	if m == nil {
		return "", &PublishError{Op: "prepare", Message: "manifest is nil"}
	}

	name := m.ProjectName
	unlock := p.lock(name)
	defer unlock()

	dir, err := p.prepare(m, evidencePath)
	if err != nil {
		return "", p.fail("prepare", err)
	}

	if _, err := p.ensureRepository(ctx, name); err != nil {
		return "", p.fail("repository", err)
	}

	if err := p.commitAndPush(ctx, dir, name); err != nil {
		return "", p.fail("push", err)
	}

	url = fmt.Sprintf("https://github.com/%s/%s", p.username, name)
	p.logger.Info(ctx, "mission published",
		zap.String("mission_id", missionID),
		zap.String("repo", url),
	)
	return url, nil
}

// checkGreen enforces the green-only rule on an attempt directory.
func (p *Publisher) checkGreen(evidencePath string) error {
	if evidencePath == "" {
		return &PublishError{Op: "verify", Message: "No audit evidence found in mission folder", Err: evidence.ErrNoVerdict}
	}
	v, err := evidence.ReadVerdict(evidencePath)
	if err != nil {
		if errors.Is(err, evidence.ErrNoVerdict) {
			return &PublishError{Op: "verify", Message: "No audit evidence found in mission folder", Err: err}
		}
		return p.fail("verify", err)
	}
	if v.Verdict != evidence.Pass {
		return &SecurityBlock{Reason: "Cannot publish failed mission. The Green-Only rule blocks deployment of unaudited code."}
	}
	seal, err := evidence.VerifySeal(evidencePath)
	if err != nil {
		return &SecurityBlock{Reason: fmt.Sprintf("Cannot publish mission with unverifiable evidence: %v", err)}
	}
	if seal.Verdict != evidence.Pass {
		return &SecurityBlock{Reason: "Cannot publish mission: sealed verdict is not PASS."}
	}
	return nil
}

// prepare writes the manifest files and a .gitignore into a fresh publish
// directory under the attempt.
func (p *Publisher) prepare(m *manifest.Manifest, evidencePath string) (string, error) {
	dir := filepath.Join(evidencePath, PublishDir)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	for _, f := range m.Files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		rel, err := filepath.Rel(dir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("file path escapes publish directory: %s", f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o600); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}

	ignore := strings.Join(gitignorePatterns, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(ignore), 0o600); err != nil {
		return "", fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return dir, nil
}

func (p *Publisher) commitAndPush(ctx context.Context, dir, name string) error {
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: mainBranch},
	})
	if err != nil {
		return fmt.Errorf("git init: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := wt.Commit("Gantry Auto-Deploy: "+name, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.authorName,
			Email: p.authorEmail,
			When:  p.now(),
		},
	}); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	remote := p.remoteURL(p.username, name)
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{remote},
	}); err != nil {
		return fmt.Errorf("git remote: %w", err)
	}

	opts := &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+" + mainBranch + ":" + mainBranch)},
		Force:      true,
	}
	if ep, err := transport.NewEndpoint(remote); err == nil && (ep.Protocol == "https" || ep.Protocol == "http") {
		opts.Auth = &githttp.BasicAuth{Username: p.username, Password: p.token.Value()}
	}
	if err := repo.PushContext(ctx, opts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// lock serialises publishes of the same project.
func (p *Publisher) lock(name string) func() {
	v, _ := p.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// fail wraps err in a PublishError with a scrubbed message.
func (p *Publisher) fail(op string, err error) error {
	msg := err.Error()
	if tok := p.token.Value(); tok != "" {
		msg = strings.ReplaceAll(msg, tok, "[REDACTED]")
	}
	msg = p.scrubber.Scrub(msg).Scrubbed
	return &PublishError{Op: op, Message: msg, Err: err}
}

func githubRemote(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const repoDescription = "Auto-deployed by Gantry Fleet"

// NewGitHubClient creates a GitHub client authenticated with token.
func NewGitHubClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc), nil
}

// ensureRepository returns the repository owned by the configured user,
// creating it when it does not exist yet.
func (p *Publisher) ensureRepository(ctx context.Context, name string) (*github.Repository, error) {
	var repo *github.Repository
	resp, err := callGitHub(ctx, p.retry, p.logger, "get repository", func() (*github.Response, error) {
		r, resp, err := p.gh.Repositories.Get(ctx, p.username, name)
		repo = r
		return resp, err
	})
	if err == nil {
		return repo, nil
	}
	if statusOf(resp) != http.StatusNotFound {
		return nil, fmt.Errorf("failed to look up repository %s/%s: %w", p.username, name, err)
	}

	p.logger.Info(ctx, "creating repository",
		zap.String("owner", p.username),
		zap.String("repo", name),
		zap.Bool("private", p.private),
	)
	resp, err = callGitHub(ctx, p.retry, p.logger, "create repository", func() (*github.Response, error) {
		r, resp, err := p.gh.Repositories.Create(ctx, "", &github.Repository{
			Name:        github.String(name),
			Private:     github.Bool(p.private),
			Description: github.String(repoDescription),
		})
		repo = r
		return resp, err
	})
	if err == nil {
		return repo, nil
	}
	// A concurrent creator won the race.
	var ghErr *github.ErrorResponse
	if statusOf(resp) == http.StatusUnprocessableEntity && errors.As(err, &ghErr) && nameTaken(ghErr) {
		return &github.Repository{Name: github.String(name)}, nil
	}
	switch statusOf(resp) {
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("invalid GitHub token or missing 'repo' scope: %w", err)
	case http.StatusForbidden:
		return nil, fmt.Errorf("token lacks permission to create repositories: %w", err)
	}
	return nil, fmt.Errorf("failed to create repository %s: %w", name, err)
}

func nameTaken(e *github.ErrorResponse) bool {
	for _, fe := range e.Errors {
		if fe.Message == "name already exists on this account" {
			return true
		}
	}
	return false
}

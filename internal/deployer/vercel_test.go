package deployer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/sandbox"
	"github.com/Jarvis2021/gantry-sub000/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	command string
	env     map[string]string
}

type scriptedShell struct {
	calls   []call
	results map[string]sandbox.ExecResult
	err     error
}

func (s *scriptedShell) Exec(_ context.Context, command string, env map[string]string) (sandbox.ExecResult, error) {
	s.calls = append(s.calls, call{command: command, env: env})
	if s.err != nil {
		return sandbox.ExecResult{}, s.err
	}
	for prefix, res := range s.results {
		if strings.HasPrefix(command, prefix) {
			return res, nil
		}
	}
	return sandbox.ExecResult{}, nil
}

const testToken = "vercel_tok_0123456789abcdef"

func TestVercel_Deploy(t *testing.T) {
	sh := &scriptedShell{results: map[string]sandbox.ExecResult{
		"vercel deploy": {Output: "Inspect: https://vercel.com/x\nProduction: https://my-app-abc.vercel.app [2s]\n"},
	}}
	v := NewVercel(config.Secret(testToken), nil, nil)
	require.True(t, v.IsConfigured())

	url, err := v.Deploy(context.Background(), sh, "My_App")
	require.NoError(t, err)
	assert.Equal(t, "https://my-app-abc.vercel.app", url)

	require.Len(t, sh.calls, 2)
	assert.Equal(t, "vercel link --yes", sh.calls[0].command)
	assert.Equal(t, "vercel deploy --prod --yes --name my-app", sh.calls[1].command)
	for _, c := range sh.calls {
		assert.NotContains(t, c.command, testToken)
		assert.Equal(t, testToken, c.env["VERCEL_TOKEN"])
	}
}

func TestVercel_DeployFailureIsScrubbed(t *testing.T) {
	sh := &scriptedShell{results: map[string]sandbox.ExecResult{
		"vercel deploy": {ExitCode: 1, Output: "Error: invalid token VERCEL_TOKEN=" + testToken},
	}}
	scrubber, err := secrets.New(&secrets.Config{Enabled: true, Rules: secrets.DefaultRules()})
	require.NoError(t, err)
	v := NewVercel(config.Secret(testToken), scrubber, nil)

	_, err = v.Deploy(context.Background(), sh, "app")
	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, 1, dErr.ExitCode)
	assert.NotContains(t, err.Error(), testToken)
}

func TestVercel_DeployNoURL(t *testing.T) {
	sh := &scriptedShell{results: map[string]sandbox.ExecResult{"vercel deploy": {Output: "done"}}}
	v := NewVercel(config.Secret(testToken), nil, nil)

	_, err := v.Deploy(context.Background(), sh, "app")
	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	assert.Contains(t, err.Error(), "URL not found")
}

func TestVercel_ExecError(t *testing.T) {
	sh := &scriptedShell{err: sandbox.ErrDestroyed}
	v := NewVercel(config.Secret(testToken), nil, nil)

	_, err := v.Deploy(context.Background(), sh, "app")
	assert.ErrorIs(t, err, sandbox.ErrDestroyed)
}

func TestVercel_NotConfigured(t *testing.T) {
	v := NewVercel("", nil, nil)
	assert.False(t, v.IsConfigured())

	_, err := v.Deploy(context.Background(), &scriptedShell{}, "app")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	var nilDeployer *Vercel
	assert.False(t, nilDeployer.IsConfigured())
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"Production: https://app.vercel.app", "https://app.vercel.app"},
		{"Preview ready\nhttps://todo-x1y2-team.vercel.app\n", "https://todo-x1y2-team.vercel.app"},
		{"nothing here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseURL(tt.output))
	}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "todo-app-v2", SafeName("Todo_App.v2"))
}

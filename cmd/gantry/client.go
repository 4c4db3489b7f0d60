package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gantryhttp "github.com/Jarvis2021/gantry-sub000/internal/http"
	"github.com/spf13/cobra"
)

// apiClient talks to a running gantry daemon.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses are returned as errors carrying the body.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		reqJSON, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqJSON)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gantry daemon health",
	Long: `Check the health status of a running gantry daemon.

Examples:
  # Check health
  gantry health

  # Check health on a different daemon
  gantry health --server http://localhost:9090`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL, 5*time.Second)

	var resp gantryhttp.HealthResponse
	if err := client.do(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
	if resp.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", resp.Version)
	}
	if resp.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", resp.Reason)
	}
	return nil
}

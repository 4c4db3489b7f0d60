package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gantryhttp "github.com/Jarvis2021/gantry-sub000/internal/http"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/spf13/cobra"
)

var (
	runDeploy       bool
	runPublish      bool
	runWait         bool
	runPollInterval time.Duration
)

// errMissionUnsuccessful is returned by run --wait when the mission ends in
// a failure status, so the process exits non-zero.
var errMissionUnsuccessful = errors.New("mission did not succeed")

// runCmd submits a mission
var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Submit a build mission",
	Long: `Submit a natural-language build request to a running gantry daemon.

The mission ID is printed immediately. With --wait the command follows the
mission until it reaches a terminal status and exits non-zero unless the
mission succeeded.

Examples:
  # Build only
  gantry run "a markdown previewer in react"

  # Build, deploy and publish, then wait for the outcome
  gantry run "a pomodoro timer" --deploy --publish --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runMission,
}

func init() {
	runCmd.Flags().BoolVar(&runDeploy, "deploy", false, "deploy the build after it passes")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "publish the project to GitHub")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "wait for the mission to finish")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 2*time.Second, "status poll interval with --wait")
}

func runMission(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL, 30*time.Second)
	out := cmd.OutOrStdout()

	var created gantryhttp.CreateMissionResponse
	err := client.do(cmd.Context(), http.MethodPost, "/api/v1/missions", gantryhttp.CreateMissionRequest{
		Prompt:  args[0],
		Deploy:  runDeploy,
		Publish: runPublish,
	}, &created)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Mission: %s\n", created.MissionID)

	if !runWait {
		fmt.Fprintf(out, "Status: %s\n", created.Status)
		return nil
	}

	m, err := awaitMission(cmd.Context(), client, created.MissionID, runPollInterval, out)
	if err != nil {
		return err
	}
	if !succeeded(m.Status) {
		return fmt.Errorf("%w: %s", errMissionUnsuccessful, m.Status)
	}
	return nil
}

// awaitMission polls the mission until it is terminal, printing every
// status change.
func awaitMission(ctx context.Context, client *apiClient, id string, interval time.Duration, out io.Writer) (*mission.Mission, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last mission.Status
	for {
		var m mission.Mission
		if err := client.do(ctx, http.MethodGet, "/api/v1/missions/"+url.PathEscape(id), nil, &m); err != nil {
			return nil, err
		}
		if m.Status != last {
			fmt.Fprintf(out, "[%s] %s\n", m.Status, m.Message)
			last = m.Status
		}
		if m.Status.Terminal() {
			return &m, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func succeeded(s mission.Status) bool {
	switch s {
	case mission.StatusSuccess, mission.StatusDeployed, mission.StatusPROpened:
		return true
	}
	return false
}

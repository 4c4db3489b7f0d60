package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	gantryhttp "github.com/Jarvis2021/gantry-sub000/internal/http"
	"github.com/Jarvis2021/gantry-sub000/internal/mission"
	"github.com/spf13/cobra"
)

var (
	missionsLimit int
	clearConfirm  bool
)

// missionsCmd groups mission history commands
var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "Inspect mission history",
	Long: `List, search and clear the mission history of a running gantry daemon.

Examples:
  # Most recent missions
  gantry missions list --limit 10

  # Missions whose prompt mentions both words
  gantry missions search "todo react"

  # Delete the whole history
  gantry missions clear --yes`,
}

var missionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent missions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listMissions(cmd, "/api/v1/missions?limit="+strconv.Itoa(missionsLimit))
	},
}

var missionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search missions by prompt keywords",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("q", args[0])
		q.Set("limit", strconv.Itoa(missionsLimit))
		return listMissions(cmd, "/api/v1/missions/search?"+q.Encode())
	},
}

var missionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all missions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirm {
			return fmt.Errorf("refusing to clear mission history without --yes")
		}
		client := newAPIClient(serverURL, 30*time.Second)
		var resp gantryhttp.ClearResponse
		if err := client.do(cmd.Context(), http.MethodDelete, "/api/v1/missions", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d mission(s)\n", resp.Deleted)
		return nil
	},
}

func init() {
	missionsCmd.PersistentFlags().IntVar(&missionsLimit, "limit", mission.DefaultListLimit, "maximum missions to show")
	missionsClearCmd.Flags().BoolVar(&clearConfirm, "yes", false, "confirm deletion")

	missionsCmd.AddCommand(missionsListCmd)
	missionsCmd.AddCommand(missionsSearchCmd)
	missionsCmd.AddCommand(missionsClearCmd)
}

func listMissions(cmd *cobra.Command, path string) error {
	client := newAPIClient(serverURL, 30*time.Second)
	var resp gantryhttp.MissionListResponse
	if err := client.do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	printMissions(cmd.OutOrStdout(), resp.Missions)
	return nil
}

func printMissions(out io.Writer, missions []*mission.Mission) {
	if len(missions) == 0 {
		fmt.Fprintln(out, "No missions found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tCREATED\tPROMPT")
	for _, m := range missions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.Status, m.AttemptCount,
			m.CreatedAt.Local().Format(time.DateTime),
			truncate(m.Prompt, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/pkg/models"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running swarm's state",
	Long: `Query a running orchestrator and display:
  - Registered agents and their status
  - Tasks by state
  - Unresolved conflicts`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Orchestrator address override")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := cfg.Server.Addr
	if statusAddr != "" {
		addr = statusAddr
	}
	base := "http://" + addr

	client := &http.Client{Timeout: 5 * time.Second}
	if _, err := client.Get(base + "/v1/health"); err != nil {
		fmt.Printf("No orchestrator reachable at %s. Run 'swarm serve' to start one.\n", addr)
		return nil
	}

	var agents []models.Agent
	if err := rpc(client, base, cfg, "list_agents", map[string]string{}, &agents); err != nil {
		return err
	}
	var tasks []models.Task
	if err := rpc(client, base, cfg, "list_tasks", map[string]string{}, &tasks); err != nil {
		return err
	}
	var conflicts []models.Conflict
	if err := rpc(client, base, cfg, "list_conflicts", map[string]bool{"unresolved_only": true}, &conflicts); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Printf("Swarm at %s\n\n", addr)

	bold.Printf("Agents (%d)\n", len(agents))
	if len(agents) == 0 {
		fmt.Println("  (none registered)")
	}
	for _, a := range agents {
		line := fmt.Sprintf("  %-28s %-16s %s", a.ID, a.Type, a.Status)
		switch a.Status {
		case models.AgentStatusIdle, models.AgentStatusBusy:
			green.Println(line)
		case models.AgentStatusError:
			red.Println(line)
		default:
			yellow.Println(line)
		}
	}
	fmt.Println()

	byStatus := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		byStatus[t.Status]++
	}
	bold.Printf("Tasks (%d)\n", len(tasks))
	for _, s := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusBlocked, models.TaskStatusAssigned,
		models.TaskStatusInProgress, models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if n := byStatus[s]; n > 0 {
			fmt.Printf("  %-12s %d\n", s, n)
		}
	}
	fmt.Println()

	if len(conflicts) > 0 {
		red.Printf("Unresolved conflicts (%d)\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Printf("  %s  %s  agents=%v\n", c.ID, c.Type, c.Agents)
		}
	} else {
		green.Println("No unresolved conflicts")
	}

	return nil
}

// rpc posts one API call and decodes the response.
func rpc(client *http.Client, base string, cfg *config.Config, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, base+"/v1/rpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, err := config.GetAPIToken(cfg); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: server returned %s", method, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

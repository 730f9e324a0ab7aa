package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/telemetry"
)

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check behaviord server health",
	Long: `Check the health status of a running behaviord server.

Examples:
  # Check health
  behaviord health

  # Check health on a different server
  behaviord health --server http://localhost:9090`,
	RunE: runHealth,
}

// healthResponse matches internal/http HealthResponse
type healthResponse struct {
	Status    string                  `json:"status"`
	Scheduler bool                    `json:"scheduler_running"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	fmt.Fprintf(out, "Scheduler: %s\n", runningLabel(health.Scheduler))
	if health.Telemetry != nil && health.Telemetry.Reason != "" {
		fmt.Fprintf(out, "Telemetry: %s\n", health.Telemetry.Reason)
	}
	return nil
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

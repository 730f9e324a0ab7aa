package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/engine"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/oracle"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
)

var (
	analyzeEventsPath string
	analyzeUserID     string
)

// analyzeCmd runs pattern detection and rule synthesis over an event export.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect workflow patterns in an exported event file",
	Long: `Run pattern detection and rule synthesis over a JSON array of events.
Nothing is persisted; the report is printed as JSON.

Examples:
  # Analyze one user's events
  behaviord analyze --events events.json --user u-42

  # Read events from stdin
  cat events.json | behaviord analyze --events - --user u-42`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeEventsPath, "events", "", "path to a JSON array of events, or - for stdin (required)")
	analyzeCmd.Flags().StringVar(&analyzeUserID, "user", "", "user to analyze (default: user of the first event)")
	_ = analyzeCmd.MarkFlagRequired("events")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	events, err := readEvents(cmd.InOrStdin(), analyzeEventsPath)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events in %s", analyzeEventsPath)
	}

	userID := analyzeUserID
	if userID == "" {
		userID = events[0].UserID
	}
	if userID == "" {
		return fmt.Errorf("--user is required when events carry no user_id")
	}
	events = eventsForUser(events, userID)

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
	}

	mem := store.NewMemoryStore()
	logger := zap.NewNop()
	eng, err := engine.New(cfg, engine.Deps{
		Events:  mem,
		Rules:   mem,
		Prefs:   mem,
		Queue:   mem,
		Channel: delivery.NewLogChannel(logger),
		Gateway: oracle.NoopGateway{},
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer eng.Stop()

	report, err := eng.AnalyzeEvents(cmd.Context(), userID, events)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// readEvents decodes a JSON array of events from path, or from stdin for "-".
func readEvents(stdin io.Reader, path string) ([]behavior.Event, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events %s: %w", path, err)
	}

	var events []behavior.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events %s: %w", path, err)
	}
	return events, nil
}

// eventsForUser keeps userID's events. Events without a user are attributed
// to userID.
func eventsForUser(events []behavior.Event, userID string) []behavior.Event {
	out := events[:0]
	for _, ev := range events {
		if ev.UserID == "" {
			ev.UserID = userID
		}
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

// executeCommand runs the root command with args and returns its output.
// Flag state is reset first because cobra keeps it in package globals.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	configPath = ""
	serverURL = "http://localhost:8080"

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeEvents(t *testing.T, events []*behavior.Event) string {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func workflowEvents(t *testing.T, userID string, n int) []*behavior.Event {
	t.Helper()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := make([]*behavior.Event, 0, n)
	for i := 0; i < n; i++ {
		typ := behavior.EventTaskCreated
		if i%2 == 1 {
			typ = behavior.EventTaskAssigned
		}
		ev, err := behavior.NewEvent(userID, typ, behavior.Metadata{"priority": behavior.String("high")}, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

// analyzeOutput is the subset of the analyze report the tests inspect.
type analyzeOutput struct {
	Analysis struct {
		UserID       string            `json:"user_id"`
		EventCount   int               `json:"event_count"`
		Insufficient bool              `json:"insufficient"`
		Patterns     []json.RawMessage `json:"patterns"`
	} `json:"analysis"`
	Synthesis json.RawMessage `json:"synthesis"`
}

func decodeReport(t *testing.T, out string) analyzeOutput {
	t.Helper()
	var report analyzeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	return report
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "behaviord")
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:     unknown")
}

func TestAnalyzeCommand(t *testing.T) {
	t.Run("detects patterns", func(t *testing.T) {
		path := writeEvents(t, workflowEvents(t, "u-42", 20))

		out, err := executeCommand(t, "analyze", "--events", path, "--user", "u-42")
		require.NoError(t, err)

		report := decodeReport(t, out)
		assert.Equal(t, "u-42", report.Analysis.UserID)
		assert.Equal(t, 20, report.Analysis.EventCount)
		assert.False(t, report.Analysis.Insufficient)
		assert.NotEmpty(t, report.Analysis.Patterns)
	})

	t.Run("defaults user to first event", func(t *testing.T) {
		path := writeEvents(t, workflowEvents(t, "u-7", 3))

		out, err := executeCommand(t, "analyze", "--events", path)
		require.NoError(t, err)

		report := decodeReport(t, out)
		assert.Equal(t, "u-7", report.Analysis.UserID)
		assert.True(t, report.Analysis.Insufficient)
		assert.Empty(t, report.Synthesis)
	})

	t.Run("ignores other users", func(t *testing.T) {
		events := append(workflowEvents(t, "u-1", 4), workflowEvents(t, "u-2", 12)...)
		path := writeEvents(t, events)

		out, err := executeCommand(t, "analyze", "--events", path, "--user", "u-1")
		require.NoError(t, err)

		report := decodeReport(t, out)
		assert.Equal(t, 4, report.Analysis.EventCount)
		assert.True(t, report.Analysis.Insufficient)
	})

	t.Run("requires events flag", func(t *testing.T) {
		_, err := executeCommand(t, "analyze")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "events")
	})

	t.Run("rejects malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

		_, err := executeCommand(t, "analyze", "--events", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse events")
	})

	t.Run("rejects empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		require.NoError(t, os.WriteFile(path, []byte("[]"), 0600))

		_, err := executeCommand(t, "analyze", "--events", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no events")
	})
}

func TestQuietHoursCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{
			name: "inside overnight window",
			args: []string{"--start", "22:00", "--end", "07:00", "--at", "2026-03-02T23:30:00Z"},
			want: []string{"Quiet hours:    true", "Deliver at:     2026-03-02T23:30:00Z"},
		},
		{
			name: "outside window",
			args: []string{"--start", "22:00", "--end", "07:00", "--at", "2026-03-02T12:00:00Z"},
			want: []string{"Quiet hours:    false", "Working time:   true"},
		},
		{
			name: "hourly defers by an hour",
			args: []string{"--start", "22:00", "--end", "07:00", "--at", "2026-03-02T12:00:00Z", "--frequency", "hourly"},
			want: []string{"Deliver at:     2026-03-02T13:00:00Z"},
		},
		{
			name: "urgent is delivered now",
			args: []string{"--start", "22:00", "--end", "07:00", "--at", "2026-03-02T23:30:00Z", "--frequency", "daily", "--priority", "urgent"},
			want: []string{"Deliver at:     2026-03-02T23:30:00Z"},
		},
		{
			name:    "invalid clock",
			args:    []string{"--start", "25:00", "--end", "07:00"},
			wantErr: "invalid time of day",
		},
		{
			name:    "invalid priority",
			args:    []string{"--start", "22:00", "--end", "07:00", "--priority", "critical"},
			wantErr: "critical",
		},
		{
			name:    "invalid frequency",
			args:    []string{"--start", "22:00", "--end", "07:00", "--frequency", "monthly"},
			wantErr: "unknown frequency",
		},
		{
			name:    "missing bounds",
			args:    []string{"--start", "22:00"},
			wantErr: "end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, append([]string{"quiet-hours"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestParseInstant(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	t.Run("empty is now", func(t *testing.T) {
		got, err := parseInstant("", now, time.UTC)
		require.NoError(t, err)
		assert.True(t, got.Equal(now))
	})

	t.Run("clock uses local date", func(t *testing.T) {
		got, err := parseInstant("08:15", now, berlin)
		require.NoError(t, err)
		want := time.Date(2026, 3, 2, 8, 15, 0, 0, berlin)
		assert.True(t, got.Equal(want), "got %s", got)
	})

	t.Run("rfc3339", func(t *testing.T) {
		got, err := parseInstant("2026-03-05T10:00:00+01:00", now, time.UTC)
		require.NoError(t, err)
		assert.True(t, got.Equal(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseInstant("noon", now, time.UTC)
		require.ErrorIs(t, err, notify.ErrInvalidClock)
	})
}

func TestHealthCommand(t *testing.T) {
	t.Run("reports server status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"degraded","scheduler_running":true,"telemetry":{"healthy":false,"degraded":true,"reason":"exporter unreachable"}}`))
		}))
		defer srv.Close()

		out, err := executeCommand(t, "health", "--server", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Server Status: degraded")
		assert.Contains(t, out, "Scheduler: running")
		assert.Contains(t, out, "Telemetry: exporter unreachable")
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := executeCommand(t, "health", "--server", srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})
}

func TestEventsForUser(t *testing.T) {
	events := []behavior.Event{
		{ID: "1", UserID: "a", Type: behavior.EventTaskCreated},
		{ID: "2", UserID: "b", Type: behavior.EventTaskCreated},
		{ID: "3", Type: behavior.EventTaskAssigned},
	}

	got := eventsForUser(events, "a")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, "a", got[1].UserID)
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
)

var (
	qhStart     string
	qhEnd       string
	qhAt        string
	qhTimezone  string
	qhPriority  string
	qhFrequency string
)

// quietHoursCmd evaluates a quiet-hours window and the resulting delivery time.
var quietHoursCmd = &cobra.Command{
	Use:   "quiet-hours",
	Short: "Check whether a time falls inside a quiet-hours window",
	Long: `Evaluate a quiet-hours window and print the delivery time a notification
would get under default preferences.

Examples:
  # Overnight window, checked now
  behaviord quiet-hours --start 22:00 --end 07:00

  # Check a specific instant in another timezone
  behaviord quiet-hours --start 22:00 --end 07:00 --at 2026-03-02T23:30:00Z --tz Europe/Berlin`,
	RunE: runQuietHours,
}

func init() {
	f := quietHoursCmd.Flags()
	f.StringVar(&qhStart, "start", "", "window start as HH:MM (required)")
	f.StringVar(&qhEnd, "end", "", "window end as HH:MM (required)")
	f.StringVar(&qhAt, "at", "", "instant to check, HH:MM today or RFC3339 (default now)")
	f.StringVar(&qhTimezone, "tz", "", "IANA timezone of the window (default UTC)")
	f.StringVar(&qhPriority, "priority", string(notify.PriorityMedium), "notification priority")
	f.StringVar(&qhFrequency, "frequency", string(notify.FrequencyImmediate), "delivery frequency: immediate, hourly, daily or weekly")
	_ = quietHoursCmd.MarkFlagRequired("start")
	_ = quietHoursCmd.MarkFlagRequired("end")
}

func runQuietHours(cmd *cobra.Command, args []string) error {
	priority, err := notify.ParsePriority(qhPriority)
	if err != nil {
		return err
	}
	freq, err := parseFrequency(qhFrequency)
	if err != nil {
		return err
	}

	prefs := notify.DefaultPreferences("cli")
	prefs.QuietHours = notify.QuietHours{Start: qhStart, End: qhEnd, Timezone: qhTimezone}
	prefs.Frequency = freq
	if err := prefs.Validate(); err != nil {
		return err
	}

	at, err := parseInstant(qhAt, time.Now(), prefs.Location())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "At:             %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(out, "Quiet hours:    %t\n", notify.IsInQuietHours(at, prefs.QuietHours))
	fmt.Fprintf(out, "Working time:   %t\n", notify.IsWorkingTime(at, prefs))
	fmt.Fprintf(out, "Deliver at:     %s\n", notify.OptimalDeliveryTime(at, priority, prefs).Format(time.RFC3339))
	return nil
}

// parseInstant accepts RFC3339 or HH:MM, the latter on now's date in loc.
// An empty value means now.
func parseInstant(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	minutes, err := notify.ParseClock(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339 or HH:MM: %w", err)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, loc), nil
}

func parseFrequency(s string) (notify.Frequency, error) {
	f := notify.Frequency(strings.ToLower(s))
	switch f {
	case notify.FrequencyImmediate, notify.FrequencyHourly, notify.FrequencyDaily, notify.FrequencyWeekly:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

package patterns

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
)

const (
	actionSuggestNext = "suggestNext"
	actionAutoSet     = "autoSet"
)

// TimeBlock returns the four-hour block index (0-5) of t.
func TimeBlock(t time.Time) int {
	return t.Hour() / 4
}

// TimeBlockLabel renders a block index as "HH:00-HH:00".
func TimeBlockLabel(block int) string {
	return fmt.Sprintf("%02d:00-%02d:00", block*4, block*4+4)
}

type temporalKey struct {
	day   time.Weekday
	block int
}

// DetectTemporal buckets events by weekday and four-hour block and emits a
// candidate for every bucket whose share of events exceeds minFrequency.
// Event times are bucketed in their own location.
func DetectTemporal(events []behavior.Event, minFrequency float64) []Candidate {
	total := len(events)
	if total == 0 {
		return nil
	}

	counts := make(map[temporalKey]int)
	for _, e := range events {
		counts[temporalKey{day: e.Timestamp.Weekday(), block: TimeBlock(e.Timestamp)}]++
	}

	keys := make([]temporalKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].block < keys[j].block
	})

	var out []Candidate
	for _, k := range keys {
		freq := float64(counts[k]) / float64(total)
		if freq <= minFrequency {
			continue
		}
		label := TimeBlockLabel(k.block)
		schedule := k.day.String() + " " + label
		out = append(out, Candidate{
			Type:          TypeTemporal,
			Description:   fmt.Sprintf("Active on %s between %s", k.day, strings.Replace(label, "-", " and ", 1)),
			Frequency:     Clamp01(freq),
			Confidence:    Clamp01(math.Min(freq*2, 1)),
			SuggestedRule: "Plan recurring work for " + schedule,
			Conditions: behavior.Metadata{
				"day_of_week": behavior.String(strings.ToLower(k.day.String())),
				"time_block":  behavior.String(label),
			},
			Actions: behavior.Metadata{
				"type":     behavior.String(actionSuggestNext),
				"schedule": behavior.String(schedule),
			},
		})
	}
	return out
}

// DetectSequences counts adjacent event-type transitions closer than maxGap
// and emits a candidate for every transition whose share of all adjacent
// pairs exceeds minFrequency. events must be sorted by timestamp.
func DetectSequences(events []behavior.Event, minFrequency float64, maxGap time.Duration) []Candidate {
	pairs := len(events) - 1
	if pairs <= 0 {
		return nil
	}

	type transition struct{ from, to behavior.EventType }
	counts := make(map[transition]int)
	for i := 0; i < pairs; i++ {
		a, b := events[i], events[i+1]
		if b.Timestamp.Sub(a.Timestamp) < maxGap {
			counts[transition{from: a.Type, to: b.Type}]++
		}
	}

	keys := make([]transition, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	var out []Candidate
	for _, k := range keys {
		freq := float64(counts[k]) / float64(pairs)
		if freq <= minFrequency {
			continue
		}
		out = append(out, Candidate{
			Type:          TypeSequence,
			Description:   fmt.Sprintf("%s is usually followed by %s", k.from, k.to),
			Frequency:     Clamp01(freq),
			Confidence:    Clamp01(math.Min(freq*3, 1)),
			SuggestedRule: fmt.Sprintf("After %s, suggest %s", k.from, k.to),
			Conditions: behavior.Metadata{
				"event_type": behavior.String(string(k.from)),
			},
			Actions: behavior.Metadata{
				"type":            behavior.String(actionSuggestNext),
				"next_event_type": behavior.String(string(k.to)),
			},
		})
	}
	return out
}

// DetectContext counts scalar metadata field values across events and emits
// a candidate for every field:value pair whose share of events exceeds
// minFrequency. Nested map values are ignored.
func DetectContext(events []behavior.Event, minFrequency float64) []Candidate {
	total := len(events)
	if total == 0 {
		return nil
	}

	type fieldValue struct {
		field string
		value behavior.Value
	}
	counts := make(map[string]int)
	seen := make(map[string]fieldValue)
	for _, e := range events {
		for field, v := range e.Metadata {
			if !v.IsScalar() {
				continue
			}
			key := field + ":" + v.Canonical()
			counts[key]++
			seen[key] = fieldValue{field: field, value: v}
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Candidate
	for _, k := range keys {
		freq := float64(counts[k]) / float64(total)
		if freq <= minFrequency {
			continue
		}
		fv := seen[k]
		out = append(out, Candidate{
			Type:          TypeContext,
			Description:   fmt.Sprintf("%s is usually %s", fv.field, fv.value),
			Frequency:     Clamp01(freq),
			Confidence:    Clamp01(math.Min(freq*2, 1)),
			SuggestedRule: fmt.Sprintf("Default %s to %s", fv.field, fv.value),
			Conditions: behavior.Metadata{
				fv.field: fv.value,
			},
			Actions: behavior.Metadata{
				"type":  behavior.String(actionAutoSet),
				"field": behavior.String(fv.field),
				"value": fv.value,
			},
		})
	}
	return out
}

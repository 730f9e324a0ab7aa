// Package patterns discovers recurring workflow patterns in behavior events.
//
// Three local detectors run over a user's events: temporal (weekday and
// four-hour block), sequential (adjacent event types) and contextual (recurring
// scalar metadata values). Candidates that clear the keep thresholds are scored
// for automation potential and optionally merged with oracle proposals.
package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
)

// ErrInsufficientData marks an analysis that had too few events. It is reported
// through Analysis.Reason, never returned as an error.
var ErrInsufficientData = errors.New("insufficient data")

// Type is the kind of pattern.
type Type string

const (
	TypeTemporal Type = "temporal"
	TypeSequence Type = "sequence"
	TypeContext  Type = "context"
)

// ParseType validates a pattern type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeTemporal, TypeSequence, TypeContext:
		return t, nil
	default:
		return "", fmt.Errorf("unknown pattern type %q", s)
	}
}

// Status is the lifecycle state of a pattern.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusApplied  Status = "applied"
)

// Source records which detector produced a pattern.
type Source string

const (
	SourceLocal  Source = "local"
	SourceOracle Source = "oracle"
)

// WorkflowPattern is a detected recurring behavior. Patterns are superseded,
// not mutated, when a user is analyzed again.
type WorkflowPattern struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	Type                Type              `json:"pattern_type"`
	Description         string            `json:"description"`
	Frequency           float64           `json:"frequency"`
	Confidence          float64           `json:"confidence"`
	AutomationPotential float64           `json:"automation_potential"`
	SuggestedRule       string            `json:"suggested_rule"`
	Conditions          behavior.Metadata `json:"conditions"`
	Actions             behavior.Metadata `json:"actions"`
	Status              Status            `json:"status"`
	Source              Source            `json:"source"`
	CreatedAt           time.Time         `json:"created_at"`
}

// Signature returns the pattern's dedup key.
func (p *WorkflowPattern) Signature() string {
	return Signature(p.Type, p.Conditions)
}

// Signature hashes a pattern type with its canonical conditions. Two patterns
// with the same signature describe the same recurring behavior.
func Signature(t Type, conditions behavior.Metadata) string {
	sum := sha256.Sum256([]byte(string(t) + "|" + conditions.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Candidate is the raw output of a single sub-detector.
type Candidate struct {
	Type          Type
	Description   string
	Frequency     float64
	Confidence    float64
	SuggestedRule string
	Conditions    behavior.Metadata
	Actions       behavior.Metadata
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

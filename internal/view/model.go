package view

import (
	"time"

	"github.com/companionbot/petwatch/internal/telemetry"
)

// Display defaults. Each field falls back independently so a partial
// snapshot still renders everything it does carry.
const (
	DefaultDash     = "-"
	DefaultUnknown  = "Unknown"
	DefaultNoTarget = "No target"
)

// FeedCap bounds the activity feed; oldest entries are evicted first.
const FeedCap = 150

// FeedEntry is one rendered line of the activity feed.
type FeedEntry struct {
	Time        time.Time
	When        string
	Level       telemetry.Level
	Source      string
	Description string
}

// Model is the fully rendered console state. Every field is already a
// display string with its default applied; renderers never reach back
// into raw telemetry.
type Model struct {
	Connection       string
	ConnectionReason string

	Mode           string
	Message        string
	Target         string
	Confidence     string
	Distance       string
	SafetyDistance string
	CliffWarning   bool
	MotionBlocked  bool
	FPS            string

	AutoRecord       string
	SnapshotSchedule string
	MovementRecord   string

	InsightHeadline  string
	InsightDetails   string
	InsightMood      string
	InsightEnergy    string
	InsightAdvice    string
	InsightIndicator string
	InsightWhen      string
	InsightStatus    string

	Feed         []FeedEntry
	CloudLog     []FeedEntry
	CloudLogPath string

	SnapshotAt string
	UpdatedAt  time.Time
}

// emptyModel returns a model with every default applied and no data.
func emptyModel() Model {
	return Model{
		Connection:       DefaultUnknown,
		Mode:             DefaultUnknown,
		Message:          DefaultDash,
		Target:           DefaultNoTarget,
		Confidence:       DefaultDash,
		Distance:         DefaultDash,
		SafetyDistance:   DefaultDash,
		FPS:              DefaultDash,
		AutoRecord:       DefaultDash,
		SnapshotSchedule: DefaultDash,
		MovementRecord:   DefaultDash,
		InsightHeadline:  DefaultDash,
		InsightDetails:   DefaultDash,
		InsightMood:      DefaultDash,
		InsightEnergy:    DefaultDash,
		InsightAdvice:    DefaultDash,
		InsightIndicator: DefaultDash,
		InsightWhen:      DefaultDash,
		SnapshotAt:       DefaultDash,
	}
}

// clone returns a deep copy safe to hand to callers.
func (m Model) clone() Model {
	out := m
	out.Feed = append([]FeedEntry(nil), m.Feed...)
	out.CloudLog = append([]FeedEntry(nil), m.CloudLog...)
	return out
}

package telemetry

import "time"

// Level classifies a log entry.
type Level string

const (
	LevelInfo   Level = "info"
	LevelWarn   Level = "warn"
	LevelError  Level = "error"
	LevelSystem Level = "system"
)

// Snapshot is a complete, point-in-time normalised telemetry record built
// from exactly one server response. It is always constructed fresh; fields
// absent from the payload stay at their zero values and are never carried
// over from a previous snapshot.
type Snapshot struct {
	Mode          string
	Message       string
	TargetVisible bool
	Detection     *Detection
	Safety        Safety
	Motion        Motion
	FPS           float64
	LastLog       string

	AutoRecording     AutoRecordState
	SmartSnapshot     SnapshotSchedule
	MovementRecording MovementRecordState

	ReceivedAt time.Time
}

// Detection describes the tracked target as reported by the device.
type Detection struct {
	Center           []float64
	BBox             []float64
	Confidence       *float64 // 0..1, nil when the device reported none
	ApproxDistanceCM *float64
	UpdatedAt        *float64 // epoch seconds
}

// Safety carries the device's obstacle readings.
type Safety struct {
	DistanceCM    *float64
	CliffDetected bool
}

// Motion reports whether the device considers movement safe. SafeToMove is
// nil when the field was absent from the payload; display treats that as
// not blocked, mirroring the device's own fail-safe.
type Motion struct {
	SafeToMove *bool
}

// AutoRecordState is the device-authoritative auto recording schedule.
// The client only re-renders it from the latest snapshot; it never computes
// its own authoritative value.
type AutoRecordState struct {
	Enabled          bool
	IntervalSeconds  float64
	Active           bool
	Eligible         bool
	SecondsUntilNext float64
	LastUploadedAt   *float64 // epoch seconds
	SecondsSinceLast *float64
}

// SnapshotSchedule mirrors the device's smart-snapshot cooldown state.
type SnapshotSchedule struct {
	Eligible         bool
	SecondsUntilNext float64
	CooldownSeconds  float64
	LastUploadedAt   *float64
}

// MovementRecordState mirrors the motion-triggered recording cooldown.
type MovementRecordState struct {
	Active           bool
	Eligible         bool
	CooldownSeconds  float64
	SecondsUntilNext float64
	LastTriggeredAt  *float64
	SecondsSinceLast *float64
}

// LogEntry is one normalised log record, whether it arrived from a bulk
// cloud fetch, the push stream, or a manual action.
type LogEntry struct {
	Timestamp   time.Time
	Level       Level
	Source      string
	Description string
	Extra       map[string]string
}

// EmotionInsight is the cloud AI's derived behaviour summary. It is
// replaced wholesale on each successful fetch; fetch failures keep the
// previous insight and only refresh the status message shown next to it.
type EmotionInsight struct {
	Headline   string
	Details    string
	Mood       string
	Energy     string
	Advice     string
	Indicator  string
	Confidence *float64
	UpdatedAt  *time.Time
}

// IsZero reports whether the insight carries no content at all.
func (e EmotionInsight) IsZero() bool {
	return e.Headline == "" && e.Details == "" && e.Mood == "" &&
		e.Energy == "" && e.Advice == "" && e.Indicator == "" &&
		e.Confidence == nil && e.UpdatedAt == nil
}

package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The device and cloud payloads are loosely typed; all shaping into the
// normalised records happens here, at the boundary, so the rendering code
// never touches raw JSON.

type snapshotDTO struct {
	Mode          *string         `json:"mode"`
	Message       *string         `json:"message"`
	TargetVisible *bool           `json:"target_visible"`
	Detection     json.RawMessage `json:"detection"`
	Safety        *safetyDTO      `json:"safety"`
	Motion        *motionDTO      `json:"motion"`
	FPS           *float64        `json:"fps"`
	LastLog       *string         `json:"last_log"`
	AutoRecording *autoRecordDTO  `json:"auto_recording"`
	SmartSnapshot *smartSnapDTO   `json:"smart_snapshot"`
	MovementRec   *movementDTO    `json:"movement_recording"`
}

type detectionDTO struct {
	Center           []float64 `json:"center"`
	BBox             []float64 `json:"bbox"`
	Confidence       *float64  `json:"confidence"`
	ApproxDistanceCM *float64  `json:"approx_distance_cm"`
	UpdatedAt        *float64  `json:"updated_at"`
}

type safetyDTO struct {
	DistanceCM    *float64 `json:"distance_cm"`
	CliffDetected *bool    `json:"cliff_detected"`
}

type motionDTO struct {
	SafeToMove *bool `json:"safe_to_move"`
}

type autoRecordDTO struct {
	Enabled          *bool    `json:"enabled"`
	Interval         *float64 `json:"interval"`
	SecondsUntilNext *float64 `json:"seconds_until_next"`
	Eligible         *bool    `json:"eligible"`
	Active           *bool    `json:"active"`
	LastUploadedAt   *float64 `json:"last_uploaded_at"`
	SecondsSinceLast *float64 `json:"seconds_since_last"`
}

type smartSnapDTO struct {
	Eligible         *bool    `json:"eligible"`
	SecondsUntilNext *float64 `json:"seconds_until_next"`
	CooldownSeconds  *float64 `json:"cooldown_seconds"`
	LastUploadedAt   *float64 `json:"last_uploaded_at"`
}

type movementDTO struct {
	Cooldown         *float64 `json:"cooldown"`
	Eligible         *bool    `json:"eligible"`
	SecondsUntilNext *float64 `json:"seconds_until_next"`
	LastTriggeredAt  *float64 `json:"last_triggered_at"`
	SecondsSinceLast *float64 `json:"seconds_since_last"`
	Active           *bool    `json:"active"`
}

// DecodeSnapshot builds a fresh Snapshot from one raw status payload.
// Absent fields stay at their zero values; nothing is merged with earlier
// snapshots.
func DecodeSnapshot(data []byte, now time.Time) (Snapshot, error) {
	var dto snapshotDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: decode status payload: %w", err)
	}
	return dto.normalize(now), nil
}

func (dto snapshotDTO) normalize(now time.Time) Snapshot {
	snap := Snapshot{ReceivedAt: now}

	if dto.Mode != nil {
		snap.Mode = *dto.Mode
	}
	if dto.Message != nil {
		snap.Message = *dto.Message
	}
	if dto.TargetVisible != nil {
		snap.TargetVisible = *dto.TargetVisible
	}
	if dto.FPS != nil {
		snap.FPS = *dto.FPS
	}
	if dto.LastLog != nil {
		snap.LastLog = *dto.LastLog
	}

	snap.Detection = decodeDetection(dto.Detection)

	if s := dto.Safety; s != nil {
		snap.Safety.DistanceCM = s.DistanceCM
		if s.CliffDetected != nil {
			snap.Safety.CliffDetected = *s.CliffDetected
		}
	}
	if m := dto.Motion; m != nil {
		snap.Motion.SafeToMove = m.SafeToMove
	}

	if a := dto.AutoRecording; a != nil {
		snap.AutoRecording = AutoRecordState{
			Enabled:          boolOr(a.Enabled, false),
			IntervalSeconds:  floatOr(a.Interval, 0),
			Active:           boolOr(a.Active, false),
			Eligible:         boolOr(a.Eligible, false),
			SecondsUntilNext: floatOr(a.SecondsUntilNext, 0),
			LastUploadedAt:   a.LastUploadedAt,
			SecondsSinceLast: a.SecondsSinceLast,
		}
	}
	if s := dto.SmartSnapshot; s != nil {
		snap.SmartSnapshot = SnapshotSchedule{
			Eligible:         boolOr(s.Eligible, false),
			SecondsUntilNext: floatOr(s.SecondsUntilNext, 0),
			CooldownSeconds:  floatOr(s.CooldownSeconds, 0),
			LastUploadedAt:   s.LastUploadedAt,
		}
	}
	if m := dto.MovementRec; m != nil {
		snap.MovementRecording = MovementRecordState{
			Active:           boolOr(m.Active, false),
			Eligible:         boolOr(m.Eligible, false),
			CooldownSeconds:  floatOr(m.Cooldown, 0),
			SecondsUntilNext: floatOr(m.SecondsUntilNext, 0),
			LastTriggeredAt:  m.LastTriggeredAt,
			SecondsSinceLast: m.SecondsSinceLast,
		}
	}

	return snap
}

// decodeDetection treats a missing, null, empty ({}) or unparsable
// detection object as "no detection".
func decodeDetection(raw json.RawMessage) *Detection {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var dto detectionDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil
	}
	if len(dto.Center) == 0 && len(dto.BBox) == 0 && dto.Confidence == nil {
		return nil
	}
	return &Detection{
		Center:           dto.Center,
		BBox:             dto.BBox,
		Confidence:       dto.Confidence,
		ApproxDistanceCM: dto.ApproxDistanceCM,
		UpdatedAt:        dto.UpdatedAt,
	}
}

// Stream event kinds.
const (
	StreamEventStatus = "status"
	StreamEventLog    = "log"
)

// StreamEvent is one parsed push-stream message.
type StreamEvent struct {
	Kind     string // StreamEventStatus or StreamEventLog
	Snapshot *Snapshot
	Log      *LogEntry
}

type streamEnvelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Level   string          `json:"level"`
	Message string          `json:"message"`
}

// DecodeStreamEvent parses one push-stream message into a discriminated
// event. Unknown or malformed messages return an error; the caller logs a
// warning and drops them without terminating the stream.
func DecodeStreamEvent(data []byte, now time.Time) (StreamEvent, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StreamEvent{}, fmt.Errorf("telemetry: decode stream message: %w", err)
	}

	switch env.Type {
	case "status":
		snap, err := DecodeSnapshot(env.Data, now)
		if err != nil {
			return StreamEvent{}, err
		}
		return StreamEvent{Kind: StreamEventStatus, Snapshot: &snap}, nil
	case "log":
		entry := LogEntry{
			Timestamp:   now,
			Level:       NormalizeLevel(env.Level),
			Source:      "device",
			Description: env.Message,
		}
		return StreamEvent{Kind: StreamEventLog, Log: &entry}, nil
	default:
		return StreamEvent{}, fmt.Errorf("telemetry: unknown stream event type %q", env.Type)
	}
}

// NormalizeLevel maps the free-form level strings seen on the wire onto the
// Level enum. Unknown values pass through lowercased so nothing is lost.
func NormalizeLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "critical":
		return LevelError
	case "system":
		return LevelSystem
	default:
		return Level(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// NormalizeLogRecord shapes one decoded JSONL object into a LogEntry.
// Fields without a dedicated slot are preserved in Extra as strings.
func NormalizeLogRecord(record map[string]any, now time.Time) LogEntry {
	entry := LogEntry{Timestamp: now, Level: LevelInfo}
	extra := make(map[string]string)

	for key, value := range record {
		switch key {
		case "timestamp", "time", "ts", "created_at":
			if ts, ok := parseTimestamp(value); ok {
				entry.Timestamp = ts
				continue
			}
		case "level", "severity":
			entry.Level = NormalizeLevel(stringify(value))
			continue
		case "source", "component", "origin":
			entry.Source = stringify(value)
			continue
		case "description", "message", "event", "text", "caption":
			if entry.Description == "" {
				entry.Description = stringify(value)
				continue
			}
		}
		if s := stringify(value); s != "" {
			extra[key] = s
		}
	}

	if len(extra) > 0 {
		entry.Extra = extra
	}
	return entry
}

// ParseLogBlob splits a newline-delimited log blob into entries. Blank
// lines are ignored; a line that fails to parse becomes one synthetic
// error-level entry carrying the offending text, so parse failures stay
// visible to the operator and never drop or reorder the valid lines.
func ParseLogBlob(content string, now time.Time) []LogEntry {
	var entries []LogEntry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			entries = append(entries, LogEntry{
				Timestamp:   now,
				Level:       LevelError,
				Source:      "cloud-log",
				Description: "unparseable log line",
				Extra:       map[string]string{"raw": line},
			})
			continue
		}
		entries = append(entries, NormalizeLogRecord(record, now))
	}
	return entries
}

// DecodeInsight shapes the cloud analysis object into an EmotionInsight.
func DecodeInsight(record map[string]any) EmotionInsight {
	insight := EmotionInsight{
		Headline:  firstString(record, "headline", "title", "summary"),
		Details:   firstString(record, "details", "detail", "body"),
		Mood:      firstString(record, "mood"),
		Energy:    firstString(record, "energy"),
		Advice:    firstString(record, "advice"),
		Indicator: firstString(record, "indicator", "status"),
	}
	if v, ok := record["confidence"]; ok {
		if f, ok := toFloat(v); ok {
			insight.Confidence = &f
		}
	}
	if v, ok := record["updated_at"]; ok {
		if ts, ok := parseTimestamp(v); ok {
			insight.UpdatedAt = &ts
		}
	}
	return insight
}

func firstString(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := record[key]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Unix(int64(f), 0), true
		}
	}
	return time.Time{}, false
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

package telemetry

import (
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestDecodeSnapshotFull(t *testing.T) {
	payload := `{
		"mode": "auto",
		"message": "Target acquired; following",
		"target_visible": true,
		"detection": {"center": [320.0, 240.0], "bbox": [100, 80, 540, 400], "confidence": 0.87, "approx_distance_cm": 42.5, "updated_at": 1773571200.5},
		"safety": {"distance_cm": 38.2, "cliff_detected": false},
		"motion": {"safe_to_move": true},
		"fps": 14.6,
		"last_log": "Target acquired; following",
		"auto_recording": {"enabled": true, "interval": 180, "seconds_until_next": 42.0, "eligible": false, "active": false, "last_uploaded_at": 1773571000.0, "seconds_since_last": 200.5}
	}`

	snap, err := DecodeSnapshot([]byte(payload), testNow)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	if snap.Mode != "auto" || !snap.TargetVisible {
		t.Fatalf("unexpected mode/visibility: %q %v", snap.Mode, snap.TargetVisible)
	}
	if snap.Detection == nil {
		t.Fatal("expected detection to be present")
	}
	if snap.Detection.Confidence == nil || *snap.Detection.Confidence != 0.87 {
		t.Fatalf("unexpected confidence: %v", snap.Detection.Confidence)
	}
	if snap.Safety.DistanceCM == nil || *snap.Safety.DistanceCM != 38.2 {
		t.Fatalf("unexpected safety distance: %v", snap.Safety.DistanceCM)
	}
	if snap.Motion.SafeToMove == nil || !*snap.Motion.SafeToMove {
		t.Fatalf("unexpected safe_to_move: %v", snap.Motion.SafeToMove)
	}
	if !snap.AutoRecording.Enabled || snap.AutoRecording.IntervalSeconds != 180 {
		t.Fatalf("unexpected auto recording state: %+v", snap.AutoRecording)
	}
	if snap.ReceivedAt != testNow {
		t.Fatalf("ReceivedAt = %v, want %v", snap.ReceivedAt, testNow)
	}
}

func TestDecodeSnapshotPartialPayload(t *testing.T) {
	// A partial payload must yield absent fields, never stale carry-over
	// and never a decode failure.
	snap, err := DecodeSnapshot([]byte(`{"mode": "idle"}`), testNow)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	if snap.Mode != "idle" {
		t.Fatalf("Mode = %q, want idle", snap.Mode)
	}
	if snap.Detection != nil {
		t.Fatalf("expected nil detection, got %+v", snap.Detection)
	}
	if snap.Motion.SafeToMove != nil {
		t.Fatalf("expected absent safe_to_move, got %v", *snap.Motion.SafeToMove)
	}
	if snap.Safety.DistanceCM != nil {
		t.Fatal("expected absent safety distance")
	}
	if snap.AutoRecording.Enabled || snap.AutoRecording.Active {
		t.Fatalf("expected zero auto recording state, got %+v", snap.AutoRecording)
	}
}

func TestDecodeSnapshotEmptyDetectionObject(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"detection": {}}`), testNow)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	if snap.Detection != nil {
		t.Fatalf("empty detection object should normalise to nil, got %+v", snap.Detection)
	}
}

func TestDecodeStreamEvent(t *testing.T) {
	ev, err := DecodeStreamEvent([]byte(`{"type": "status", "data": {"mode": "auto", "fps": 10.0}}`), testNow)
	if err != nil {
		t.Fatalf("DecodeStreamEvent(status) failed: %v", err)
	}
	if ev.Kind != "status" || ev.Snapshot == nil || ev.Snapshot.Mode != "auto" {
		t.Fatalf("unexpected status event: %+v", ev)
	}

	ev, err = DecodeStreamEvent([]byte(`{"type": "log", "level": "warning", "message": "Movement blocked by safety check"}`), testNow)
	if err != nil {
		t.Fatalf("DecodeStreamEvent(log) failed: %v", err)
	}
	if ev.Kind != "log" || ev.Log == nil {
		t.Fatalf("unexpected log event: %+v", ev)
	}
	if ev.Log.Level != LevelWarn {
		t.Fatalf("Level = %q, want warn", ev.Log.Level)
	}

	if _, err := DecodeStreamEvent([]byte(`{"type": "telepathy"}`), testNow); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if _, err := DecodeStreamEvent([]byte(`{not json`), testNow); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func TestParseLogBlob(t *testing.T) {
	blob := strings.Join([]string{
		`{"timestamp": "2026-03-14T09:30:00Z", "level": "info", "event": "snapshot uploaded", "pet": "maru"}`,
		``,
		`this line is not json`,
		`{"level": "warning", "message": "low battery"}`,
	}, "\n")

	entries := ParseLogBlob(blob, testNow)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[0].Description != "snapshot uploaded" {
		t.Fatalf("entry 0 description = %q", entries[0].Description)
	}
	if entries[0].Extra["pet"] != "maru" {
		t.Fatalf("entry 0 extra = %v", entries[0].Extra)
	}
	want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !entries[0].Timestamp.Equal(want) {
		t.Fatalf("entry 0 timestamp = %v, want %v", entries[0].Timestamp, want)
	}

	if entries[1].Level != LevelError {
		t.Fatalf("malformed line should become an error entry, got level %q", entries[1].Level)
	}
	if entries[1].Extra["raw"] != "this line is not json" {
		t.Fatalf("malformed line raw text missing: %v", entries[1].Extra)
	}

	if entries[2].Level != LevelWarn || entries[2].Description != "low battery" {
		t.Fatalf("entry 2 unexpected: %+v", entries[2])
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := map[string]Level{
		"":         LevelInfo,
		"info":     LevelInfo,
		"WARNING":  LevelWarn,
		"warn":     LevelWarn,
		"error":    LevelError,
		"critical": LevelError,
		"system":   LevelSystem,
		"debug":    Level("debug"),
	}
	for raw, want := range cases {
		if got := NormalizeLevel(raw); got != want {
			t.Fatalf("NormalizeLevel(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDecodeInsight(t *testing.T) {
	record := map[string]any{
		"headline":   "Calm afternoon",
		"details":    "Mostly resting near the window.",
		"mood":       "relaxed",
		"energy":     "low",
		"advice":     "A short walk before dinner would help.",
		"indicator":  "green",
		"confidence": 0.74,
		"updated_at": float64(1773571200),
	}

	insight := DecodeInsight(record)
	if insight.Headline != "Calm afternoon" || insight.Mood != "relaxed" {
		t.Fatalf("unexpected insight: %+v", insight)
	}
	if insight.Confidence == nil || *insight.Confidence != 0.74 {
		t.Fatalf("confidence = %v", insight.Confidence)
	}
	if insight.UpdatedAt == nil || insight.UpdatedAt.Unix() != 1773571200 {
		t.Fatalf("updated_at = %v", insight.UpdatedAt)
	}

	sparse := DecodeInsight(map[string]any{"summary": "Active morning"})
	if sparse.Headline != "Active morning" {
		t.Fatalf("summary fallback not applied: %+v", sparse)
	}
	if !DecodeInsight(map[string]any{}).IsZero() {
		t.Fatal("empty record should decode to zero insight")
	}
}

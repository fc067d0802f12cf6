package view

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/telemetry"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEmptyModelDefaults(t *testing.T) {
	m := emptyModel()
	if m.Connection != DefaultUnknown || m.Mode != DefaultUnknown {
		t.Fatalf("connection/mode defaults wrong: %+v", m)
	}
	if m.Message != DefaultDash || m.FPS != DefaultDash || m.Distance != DefaultDash {
		t.Fatalf("dash defaults wrong: %+v", m)
	}
	if m.Target != DefaultNoTarget {
		t.Fatalf("target default = %q", m.Target)
	}
}

func TestApplyStatusPartialPayloadKeepsDefaults(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(nil, withClock(fixedClock(now)))

	r.applyStatus(telemetry.Snapshot{Mode: "follow", ReceivedAt: now})
	m := r.Model()

	if m.Mode != "follow" {
		t.Fatalf("mode = %q", m.Mode)
	}
	if m.Message != DefaultDash {
		t.Fatalf("missing message should render %q, got %q", DefaultDash, m.Message)
	}
	if m.Target != DefaultNoTarget {
		t.Fatalf("missing detection should render %q, got %q", DefaultNoTarget, m.Target)
	}
	if m.SafetyDistance != DefaultDash || m.FPS != DefaultDash {
		t.Fatalf("dash defaults not applied: %+v", m)
	}
	if m.MotionBlocked {
		t.Fatal("absent safe_to_move must read as not blocked")
	}
	if m.SnapshotAt != "just now" {
		t.Fatalf("snapshot age = %q", m.SnapshotAt)
	}
}

func TestApplyStatusReplacesWholesale(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(nil, withClock(fixedClock(now)))

	dist := 42.0
	r.applyStatus(telemetry.Snapshot{
		Mode:       "follow",
		Message:    "tracking",
		Safety:     telemetry.Safety{DistanceCM: &dist},
		FPS:        12,
		ReceivedAt: now,
	})
	r.applyStatus(telemetry.Snapshot{Mode: "idle", ReceivedAt: now})

	m := r.Model()
	if m.Message != DefaultDash {
		t.Fatalf("message from previous snapshot leaked: %q", m.Message)
	}
	if m.SafetyDistance != DefaultDash {
		t.Fatalf("safety distance from previous snapshot leaked: %q", m.SafetyDistance)
	}
}

func TestMotionBlockedIndicator(t *testing.T) {
	r := NewReconciler(nil)
	blocked := false
	r.applyStatus(telemetry.Snapshot{Motion: telemetry.Motion{SafeToMove: &blocked}})
	if !r.Model().MotionBlocked {
		t.Fatal("safe_to_move=false should set the blocked indicator")
	}
	free := true
	r.applyStatus(telemetry.Snapshot{Motion: telemetry.Motion{SafeToMove: &free}})
	if r.Model().MotionBlocked {
		t.Fatal("safe_to_move=true should clear the blocked indicator")
	}
}

func TestFeedCapAndOrder(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(nil, withClock(fixedClock(now)))

	total := FeedCap + 25
	for i := 0; i < total; i++ {
		r.applyLog(telemetry.LogEntry{
			Timestamp:   now,
			Level:       telemetry.LevelInfo,
			Description: fmt.Sprintf("entry %d", i),
		})
	}

	m := r.Model()
	if len(m.Feed) != FeedCap {
		t.Fatalf("feed length = %d, want %d", len(m.Feed), FeedCap)
	}
	// Newest first; the oldest 25 entries were evicted.
	if m.Feed[0].Description != fmt.Sprintf("entry %d", total-1) {
		t.Fatalf("head = %q", m.Feed[0].Description)
	}
	if m.Feed[FeedCap-1].Description != fmt.Sprintf("entry %d", total-FeedCap) {
		t.Fatalf("tail = %q", m.Feed[FeedCap-1].Description)
	}
}

func TestCloudLogOrderPreserved(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(nil, withClock(fixedClock(now)))

	r.applyCloudLog(eventbus.CloudLogUpdate{
		Path: "logs/today.jsonl",
		Entries: []telemetry.LogEntry{
			{Description: "first", Level: telemetry.LevelInfo},
			{Description: "second", Level: telemetry.LevelInfo},
		},
	})

	m := r.Model()
	if m.CloudLogPath != "logs/today.jsonl" {
		t.Fatalf("path = %q", m.CloudLogPath)
	}
	if len(m.CloudLog) != 2 || m.CloudLog[0].Description != "first" {
		t.Fatalf("bulk entries must keep provided order: %+v", m.CloudLog)
	}
}

func TestInsightFailureKeepsLastKnownGood(t *testing.T) {
	r := NewReconciler(nil)

	r.applyInsight(eventbus.InsightUpdate{
		OK:      true,
		Insight: telemetry.EmotionInsight{Headline: "Calm morning", Mood: "relaxed"},
	})
	r.applyInsight(eventbus.InsightUpdate{
		OK:            false,
		StatusMessage: "cloud unreachable",
	})

	m := r.Model()
	if m.InsightHeadline != "Calm morning" {
		t.Fatalf("failure blanked the insight: %q", m.InsightHeadline)
	}
	if m.InsightStatus != "cloud unreachable" {
		t.Fatalf("status = %q", m.InsightStatus)
	}

	r.applyInsight(eventbus.InsightUpdate{
		OK:      true,
		Insight: telemetry.EmotionInsight{Headline: "Playful afternoon"},
	})
	m = r.Model()
	if m.InsightHeadline != "Playful afternoon" {
		t.Fatalf("successful fetch must replace wholesale: %q", m.InsightHeadline)
	}
	if m.InsightStatus != "" {
		t.Fatalf("status should clear on success: %q", m.InsightStatus)
	}
}

func TestConnectionTransitions(t *testing.T) {
	r := NewReconciler(nil)
	r.applyConnection(eventbus.ConnectionUpdate{Status: eventbus.ConnectionOffline, Reason: "connection refused"})
	m := r.Model()
	if m.Connection != "Offline" || m.ConnectionReason != "connection refused" {
		t.Fatalf("offline transition: %+v", m)
	}
	r.applyConnection(eventbus.ConnectionUpdate{Status: eventbus.ConnectionOnline})
	if r.Model().Connection != "Online" {
		t.Fatal("online transition not applied")
	}
}

func TestReconcilerConsumesBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	updates := make(chan Model, 16)
	r := NewReconciler(bus, WithOnUpdate(func(m Model) {
		select {
		case updates <- m:
		default:
		}
	}))
	r.Start()
	defer r.Stop()

	eventbus.Publish(context.Background(), bus, eventbus.TelemetryStatus, eventbus.SourcePoller,
		eventbus.StatusUpdate{Snapshot: telemetry.Snapshot{Mode: "follow"}})

	select {
	case m := <-updates:
		if m.Mode != "follow" {
			t.Fatalf("mode = %q", m.Mode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update delivered")
	}
}

package channels

import (
	"context"
	"log"
	"time"

	"github.com/companionbot/petwatch/internal/device"
	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/telemetry"
)

// streamLoop keeps one push-event connection alive for the lifetime of
// the endpoint. Every disconnect, however it happened, is followed by a
// fixed backoff and a fresh attempt; there is no give-up state.
func (m *Manager) streamLoop(ctx context.Context, epoch uint64, client *device.Client) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := client.OpenEvents(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[Channels] event stream connect failed: %v", err)
			}
		} else {
			m.consumeStream(ctx, epoch, stream)
			stream.Close()
			if ctx.Err() == nil {
				m.publishStreamNotice(ctx, epoch)
			}
		}

		if !sleepCtx(ctx, streamBackoff) {
			return
		}
	}
}

func (m *Manager) consumeStream(ctx context.Context, epoch uint64, stream *device.Stream) {
	for payload := range stream.Events() {
		event, err := telemetry.DecodeStreamEvent(payload, time.Now())
		if err != nil {
			log.Printf("[Channels] dropping malformed stream event: %v", err)
			continue
		}
		switch event.Kind {
		case telemetry.StreamEventStatus:
			m.noteSuccess(epoch)
			seq := m.seq.begin(KindStatus)
			if !m.seq.complete(KindStatus, seq) || !m.currentEpoch(epoch) {
				continue
			}
			eventbus.Publish(ctx, m.bus, eventbus.TelemetryStatus, eventbus.SourceStream,
				eventbus.StatusUpdate{Snapshot: *event.Snapshot})
		case telemetry.StreamEventLog:
			if !m.currentEpoch(epoch) {
				continue
			}
			eventbus.Publish(ctx, m.bus, eventbus.TelemetryLog, eventbus.SourceStream,
				eventbus.LogEvent{Entry: *event.Log})
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		log.Printf("[Channels] event stream dropped: %v", err)
	}
}

// publishStreamNotice surfaces a reconnect in the activity feed so the
// gap in pushed events is visible to the operator.
func (m *Manager) publishStreamNotice(ctx context.Context, epoch uint64) {
	if !m.currentEpoch(epoch) {
		return
	}
	eventbus.Publish(ctx, m.bus, eventbus.TelemetryLog, eventbus.SourceStream,
		eventbus.LogEvent{Entry: telemetry.LogEntry{
			Timestamp:   time.Now(),
			Level:       telemetry.LevelSystem,
			Source:      "stream",
			Description: "event stream interrupted, reconnecting",
		}})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

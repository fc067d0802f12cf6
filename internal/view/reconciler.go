package view

import (
	"context"
	"sync"
	"time"

	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/telemetry"
)

// Reconciler folds bus events into the rendered Model. It is the single
// writer: one goroutine consumes every topic and rebuilds the model,
// so renderers and the gateway only ever read copies.
type Reconciler struct {
	bus *eventbus.Bus

	mu    sync.RWMutex
	model Model

	lastInsight telemetry.EmotionInsight

	onUpdate func(Model)

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithOnUpdate registers a callback invoked with a fresh model copy
// after every applied event. It runs on the reconciler goroutine, so it
// must not block.
func WithOnUpdate(fn func(Model)) Option {
	return func(r *Reconciler) { r.onUpdate = fn }
}

// withClock overrides the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler builds a reconciler over bus. Call Start to begin
// consuming events.
func NewReconciler(bus *eventbus.Bus, opts ...Option) *Reconciler {
	r := &Reconciler{
		bus:   bus,
		model: emptyModel(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the consuming goroutine.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	statusSub := eventbus.SubscribeTo(r.bus, eventbus.TelemetryStatus, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("view.status"))
	logSub := eventbus.SubscribeTo(r.bus, eventbus.TelemetryLog, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("view.log"))
	cloudSub := eventbus.SubscribeTo(r.bus, eventbus.TelemetryCloudLog, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("view.cloud_log"))
	insightSub := eventbus.SubscribeTo(r.bus, eventbus.TelemetryInsight, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("view.insight"))
	connSub := eventbus.SubscribeTo(r.bus, eventbus.ConnectionState, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("view.connection"))

	go func() {
		defer close(r.done)
		for {
			select {
			case env, ok := <-statusSub.C():
				if !ok {
					return
				}
				r.applyStatus(env.Payload.Snapshot)
			case env, ok := <-logSub.C():
				if !ok {
					return
				}
				r.applyLog(env.Payload.Entry)
			case env, ok := <-cloudSub.C():
				if !ok {
					return
				}
				r.applyCloudLog(env.Payload)
			case env, ok := <-insightSub.C():
				if !ok {
					return
				}
				r.applyInsight(env.Payload)
			case env, ok := <-connSub.C():
				if !ok {
					return
				}
				r.applyConnection(env.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the consuming goroutine. Safe to call when not started.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

// Model returns a copy of the current rendered model.
func (r *Reconciler) Model() Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model.clone()
}

func (r *Reconciler) applyStatus(snap telemetry.Snapshot) {
	now := r.now()
	r.mu.Lock()
	m := &r.model

	m.Mode = orDash(snap.Mode)
	if m.Mode == DefaultDash {
		m.Mode = DefaultUnknown
	}
	m.Message = orDash(snap.Message)
	m.Target = TargetSummary(snap.TargetVisible, snap.Detection)
	m.Confidence = formatConfidence(snap.Detection)
	if snap.Detection != nil {
		m.Distance = formatDistanceCM(snap.Detection.ApproxDistanceCM)
	} else {
		m.Distance = DefaultDash
	}
	m.SafetyDistance = formatDistanceCM(snap.Safety.DistanceCM)
	m.CliffWarning = snap.Safety.CliffDetected
	m.MotionBlocked = snap.Motion.SafeToMove != nil && !*snap.Motion.SafeToMove
	m.FPS = formatFPS(snap.FPS)
	m.AutoRecord = AutoRecordSummary(snap.AutoRecording)
	m.SnapshotSchedule = SnapshotScheduleSummary(snap.SmartSnapshot)
	m.MovementRecord = MovementRecordSummary(snap.MovementRecording)
	m.SnapshotAt = RelTime(snap.ReceivedAt, now)
	m.UpdatedAt = now
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) applyLog(entry telemetry.LogEntry) {
	now := r.now()
	r.mu.Lock()
	fe := FeedEntry{
		Time:        entry.Timestamp,
		When:        RelTime(entry.Timestamp, now),
		Level:       entry.Level,
		Source:      entry.Source,
		Description: entry.Description,
	}
	// Newest first; the cap evicts from the tail.
	feed := append([]FeedEntry{fe}, r.model.Feed...)
	if len(feed) > FeedCap {
		feed = feed[:FeedCap]
	}
	r.model.Feed = feed
	r.model.UpdatedAt = now
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) applyCloudLog(update eventbus.CloudLogUpdate) {
	now := r.now()
	r.mu.Lock()
	entries := update.Entries
	if len(entries) > FeedCap {
		// Keep the newest end of an oversized batch.
		entries = entries[len(entries)-FeedCap:]
	}
	rendered := make([]FeedEntry, 0, len(entries))
	for _, e := range entries {
		rendered = append(rendered, FeedEntry{
			Time:        e.Timestamp,
			When:        RelTime(e.Timestamp, now),
			Level:       e.Level,
			Source:      e.Source,
			Description: e.Description,
		})
	}
	r.model.CloudLog = rendered
	r.model.CloudLogPath = update.Path
	r.model.UpdatedAt = now
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) applyInsight(update eventbus.InsightUpdate) {
	now := r.now()
	r.mu.Lock()
	if update.OK {
		if !update.Insight.IsZero() {
			r.lastInsight = update.Insight
		}
		r.model.InsightStatus = ""
	} else {
		// Keep the previous insight on failure; only the status line
		// changes.
		r.model.InsightStatus = update.StatusMessage
	}
	insight := r.lastInsight
	m := &r.model
	m.InsightHeadline = orDash(insight.Headline)
	m.InsightDetails = orDash(insight.Details)
	m.InsightMood = orDash(insight.Mood)
	m.InsightEnergy = orDash(insight.Energy)
	m.InsightAdvice = orDash(insight.Advice)
	m.InsightIndicator = orDash(insight.Indicator)
	if insight.UpdatedAt != nil {
		m.InsightWhen = RelTime(*insight.UpdatedAt, now)
	} else {
		m.InsightWhen = DefaultDash
	}
	m.UpdatedAt = now
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) applyConnection(update eventbus.ConnectionUpdate) {
	now := r.now()
	r.mu.Lock()
	r.model.Connection = connectionLabel(string(update.Status))
	r.model.ConnectionReason = update.Reason
	r.model.UpdatedAt = now
	r.mu.Unlock()
	r.notify()
}

func (r *Reconciler) notify() {
	if r.onUpdate == nil {
		return
	}
	r.onUpdate(r.Model())
}

package channels

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/companionbot/petwatch/internal/device"
	"github.com/companionbot/petwatch/internal/endpoint"
	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/telemetry"
)

// ErrNotStarted is returned for operations that need an active endpoint.
var ErrNotStarted = errors.New("channels: manager not started")

// Kind identifies one polled data channel.
type Kind string

const (
	KindStatus   Kind = "status"
	KindCloudLog Kind = "cloud_log"
	KindInsight  Kind = "insight"
)

const (
	statusInterval   = 5 * time.Second
	cloudLogInterval = 10 * time.Second
	insightInterval  = 20 * time.Second

	streamBackoff = 5 * time.Second
)

// Manager owns every connection to the device: one poller per channel
// kind, the push event stream, and command dispatch. All results flow
// out through the event bus; the manager itself holds no view state.
//
// At most one request per kind is in flight at a time, and each applied
// result carries a per-kind sequence number so that a slow response can
// never overwrite a newer one. Switching endpoints bumps an epoch;
// results started under an older epoch are discarded.
type Manager struct {
	bus *eventbus.Bus

	epoch atomic.Uint64

	mu      sync.Mutex
	client  *device.Client
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	refresh map[Kind]chan struct{}

	seq seqGuard

	connMu    sync.Mutex
	connState eventbus.ConnectionStatus
}

// NewManager constructs a manager publishing to bus. Call Start to
// begin polling.
func NewManager(bus *eventbus.Bus) *Manager {
	return &Manager{
		bus:       bus,
		connState: eventbus.ConnectionUnknown,
	}
}

// Start begins polling and streaming from ep. A previous endpoint, if
// any, is stopped first; in-flight results from it are discarded.
func (m *Manager) Start(ep endpoint.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	epoch := m.epoch.Add(1)
	m.client = device.New(ep)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.refresh = map[Kind]chan struct{}{
		KindStatus:   make(chan struct{}, 1),
		KindCloudLog: make(chan struct{}, 1),
		KindInsight:  make(chan struct{}, 1),
	}

	client := m.client
	m.wg.Add(4)
	go m.pollLoop(ctx, epoch, client, KindStatus, statusInterval, m.refresh[KindStatus])
	go m.pollLoop(ctx, epoch, client, KindCloudLog, cloudLogInterval, m.refresh[KindCloudLog])
	go m.pollLoop(ctx, epoch, client, KindInsight, insightInterval, m.refresh[KindInsight])
	go m.streamLoop(ctx, epoch, client)

	log.Printf("[Channels] started for %s (epoch %d)", client.BaseURL(), epoch)
}

// Stop halts all pollers and the stream. Safe to call when stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	// Bumping the epoch before waiting guarantees no straggler result
	// from the old endpoint is published, even one already past its
	// context check.
	m.epoch.Add(1)
	m.cancel()
	m.cancel = nil
	m.wg.Wait()
	m.client = nil
	m.refresh = nil
}

// ForceRefresh schedules an immediate poll of kind, ahead of its next
// tick. If a request for the kind is already in flight the signal
// coalesces with it.
func (m *Manager) ForceRefresh(kind Kind) {
	m.mu.Lock()
	ch := m.refresh[kind]
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Command dispatches one action to the device. When the device replies
// with fresh state it is applied through the same sequence guard as
// polled snapshots, so a slow in-flight poll cannot roll it back.
func (m *Manager) Command(ctx context.Context, action string, params map[string]any) (device.CommandResult, error) {
	// Epoch and client must be read under the same lock Start bumps them
	// under, so they always belong to the same endpoint.
	m.mu.Lock()
	client := m.client
	epoch := m.epoch.Load()
	m.mu.Unlock()
	if client == nil {
		return device.CommandResult{}, ErrNotStarted
	}

	result, err := client.Command(ctx, action, params)
	if err != nil {
		return device.CommandResult{}, err
	}
	if result.State != nil {
		m.applySnapshot(epoch, eventbus.SourceCommand, uuid.NewString(), *result.State)
	}
	return result, nil
}

// Client returns the device client for the active endpoint, or nil when
// stopped. Used by surfaces that need direct passthrough access.
func (m *Manager) Client() *device.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) pollLoop(ctx context.Context, epoch uint64, client *device.Client, kind Kind, interval time.Duration, refresh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.pollOnce(ctx, epoch, client, kind)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, epoch, client, kind)
		case <-refresh:
			m.pollOnce(ctx, epoch, client, kind)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, epoch uint64, client *device.Client, kind Kind) {
	switch kind {
	case KindStatus:
		seq := m.seq.begin(kind)
		snap, err := client.Status(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.noteFailure(epoch, err)
			}
			return
		}
		m.noteSuccess(epoch)
		if !m.seq.complete(kind, seq) || !m.currentEpoch(epoch) {
			return
		}
		eventbus.PublishWithOpts(ctx, m.bus, eventbus.TelemetryStatus, eventbus.SourcePoller,
			eventbus.StatusUpdate{Snapshot: snap},
			eventbus.WithTimestamp(snap.ReceivedAt))

	case KindCloudLog:
		seq := m.seq.begin(kind)
		result, err := client.CloudLog(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[Channels] cloud log poll failed: %v", err)
			}
			return
		}
		if !m.seq.complete(kind, seq) || !m.currentEpoch(epoch) {
			return
		}
		eventbus.Publish(ctx, m.bus, eventbus.TelemetryCloudLog, eventbus.SourcePoller,
			eventbus.CloudLogUpdate{Entries: result.Entries, Path: result.Path})

	case KindInsight:
		seq := m.seq.begin(kind)
		insight, err := client.EmotionInsight(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if !m.seq.complete(kind, seq) || !m.currentEpoch(epoch) {
			return
		}
		update := eventbus.InsightUpdate{Insight: insight, OK: err == nil}
		if err != nil {
			update.StatusMessage = err.Error()
		}
		eventbus.Publish(ctx, m.bus, eventbus.TelemetryInsight, eventbus.SourcePoller, update)
	}
}

func (m *Manager) applySnapshot(epoch uint64, source eventbus.Source, correlationID string, snap telemetry.Snapshot) {
	seq := m.seq.begin(KindStatus)
	if !m.seq.complete(KindStatus, seq) || !m.currentEpoch(epoch) {
		return
	}
	eventbus.PublishWithOpts(context.Background(), m.bus, eventbus.TelemetryStatus, source,
		eventbus.StatusUpdate{Snapshot: snap},
		eventbus.WithTimestamp(snap.ReceivedAt),
		eventbus.WithCorrelationID(correlationID))
}

func (m *Manager) currentEpoch(epoch uint64) bool {
	return epoch == m.epoch.Load()
}

func (m *Manager) noteSuccess(epoch uint64) {
	m.setConnState(epoch, eventbus.ConnectionOnline, "")
}

func (m *Manager) noteFailure(epoch uint64, err error) {
	m.setConnState(epoch, eventbus.ConnectionOffline, err.Error())
}

func (m *Manager) setConnState(epoch uint64, state eventbus.ConnectionStatus, reason string) {
	if !m.currentEpoch(epoch) {
		return
	}
	m.connMu.Lock()
	changed := m.connState != state
	m.connState = state
	m.connMu.Unlock()
	if !changed {
		return
	}
	if state == eventbus.ConnectionOffline {
		log.Printf("[Channels] device unreachable: %s", reason)
	} else {
		log.Printf("[Channels] device online")
	}
	eventbus.Publish(context.Background(), m.bus, eventbus.ConnectionState, eventbus.SourcePoller,
		eventbus.ConnectionUpdate{Status: state, Reason: reason, CheckedAt: time.Now()})
}

// ConnectionStatus reports the last observed device reachability.
func (m *Manager) ConnectionStatus() eventbus.ConnectionStatus {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.connState
}

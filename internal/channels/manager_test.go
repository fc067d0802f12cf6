package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companionbot/petwatch/internal/endpoint"
	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/telemetry"
)

func TestSeqGuardDiscardsStaleResult(t *testing.T) {
	var g seqGuard

	first := g.begin(KindStatus)
	second := g.begin(KindStatus)

	if !g.complete(KindStatus, second) {
		t.Fatal("newest result should apply")
	}
	if g.complete(KindStatus, first) {
		t.Fatal("result that completed after a newer one should be discarded")
	}
}

func TestSeqGuardKindsAreIndependent(t *testing.T) {
	var g seqGuard

	s := g.begin(KindStatus)
	l := g.begin(KindCloudLog)

	if !g.complete(KindStatus, s) {
		t.Fatal("status result should apply")
	}
	if !g.complete(KindCloudLog, l) {
		t.Fatal("cloud log result should apply despite status activity")
	}
}

func testEndpoint(t *testing.T, srv *httptest.Server) endpoint.Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	ep, err := endpoint.Resolve(u.String())
	if err != nil {
		t.Fatalf("resolve test server endpoint: %v", err)
	}
	return ep
}

func waitFor[T any](t *testing.T, sub *eventbus.TypedSubscription[T]) T {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env.Payload
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bus event")
	}
	var zero T
	return zero
}

func TestManagerPublishesInitialSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(`{"mode":"follow","message":"tracking"}`))
		case "/api/gcp-log":
			w.Write([]byte(`{"status":"ok","log_path":"p","entries":[]}`))
		case "/api/emotion-insight":
			w.Write([]byte(`{"status":"ok","analysis":{"headline":"Calm"}}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	statusSub := eventbus.SubscribeTo(bus, eventbus.TelemetryStatus)
	defer statusSub.Close()
	connSub := eventbus.SubscribeTo(bus, eventbus.ConnectionState)
	defer connSub.Close()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	defer m.Stop()

	update := waitFor(t, statusSub)
	if update.Snapshot.Mode != "follow" {
		t.Fatalf("snapshot mode = %q, want follow", update.Snapshot.Mode)
	}

	conn := waitFor(t, connSub)
	if conn.Status != eventbus.ConnectionOnline {
		t.Fatalf("connection status = %q, want online", conn.Status)
	}
}

func TestManagerReportsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/status" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()
	connSub := eventbus.SubscribeTo(bus, eventbus.ConnectionState)
	defer connSub.Close()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	defer m.Stop()

	conn := waitFor(t, connSub)
	if conn.Status != eventbus.ConnectionOffline {
		t.Fatalf("connection status = %q, want offline", conn.Status)
	}
	if conn.Reason == "" {
		t.Fatal("offline transition should carry a reason")
	}
	if m.ConnectionStatus() != eventbus.ConnectionOffline {
		t.Fatal("ConnectionStatus() should reflect the last transition")
	}
}

func TestManagerForceRefresh(t *testing.T) {
	var statusCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			statusCalls.Add(1)
			w.Write([]byte(`{"mode":"idle"}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()
	statusSub := eventbus.SubscribeTo(bus, eventbus.TelemetryStatus)
	defer statusSub.Close()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	defer m.Stop()

	waitFor(t, statusSub)
	before := statusCalls.Load()

	m.ForceRefresh(KindStatus)
	waitFor(t, statusSub)

	if statusCalls.Load() <= before {
		t.Fatal("ForceRefresh should trigger an immediate poll")
	}
}

func TestManagerCommandAppliesReturnedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/commands":
			w.Write([]byte(`{"status":"ok","state":{"mode":"manual","message":"driving"}}`))
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	defer m.Stop()

	statusSub := eventbus.SubscribeTo(bus, eventbus.TelemetryStatus)
	defer statusSub.Close()

	result, err := m.Command(context.Background(), "drive", map[string]any{"direction": "forward"})
	if err != nil {
		t.Fatalf("Command() error: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("status = %q", result.Status)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-statusSub.C():
			if env.Source == eventbus.SourceCommand {
				if env.Payload.Snapshot.Mode != "manual" {
					t.Fatalf("command state mode = %q", env.Payload.Snapshot.Mode)
				}
				if env.CorrelationID == "" {
					t.Fatal("command-sourced update should carry a correlation id")
				}
				return
			}
		case <-deadline:
			t.Fatal("command-returned state never reached the bus")
		}
	}
}

func TestManagerCommandDuringEndpointSwitch(t *testing.T) {
	commandStarted := make(chan struct{})
	release := make(chan struct{})

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/commands":
			close(commandStarted)
			<-release
			w.Write([]byte(`{"status":"ok","state":{"mode":"ghost"}}`))
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(`{"mode":"fresh"}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srvB.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srvA))
	defer m.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := m.Command(context.Background(), "drive", nil)
		done <- err
	}()

	select {
	case <-commandStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("command never reached the first device")
	}

	// Switch endpoints while the command is still in flight against the
	// old device; its eventual reply must not touch displayed state.
	m.Start(testEndpoint(t, srvB))

	statusSub := eventbus.SubscribeTo(bus, eventbus.TelemetryStatus)
	defer statusSub.Close()

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Command() error: %v", err)
	}

	deadline := time.After(1 * time.Second)
	for {
		select {
		case env := <-statusSub.C():
			if env.Source == eventbus.SourceCommand {
				t.Fatalf("old-endpoint command state published after switch: %+v", env.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func TestManagerStreamClosedBeforeReopen(t *testing.T) {
	aOpened := make(chan struct{})
	aClosed := make(chan struct{})
	var overlap atomic.Bool

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			close(aOpened)
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			close(aClosed)
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			select {
			case <-aClosed:
			case <-time.After(2 * time.Second):
				overlap.Store(true)
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srvB.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srvA))

	select {
	case <-aOpened:
	case <-time.After(5 * time.Second):
		t.Fatal("first event stream never opened")
	}

	m.Start(testEndpoint(t, srvB))
	defer m.Stop()

	select {
	case <-aClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("old event stream not closed on endpoint switch")
	}
	if overlap.Load() {
		t.Fatal("new event stream opened before the old one closed")
	}
}

func TestManagerRestartSameEndpointReopensStream(t *testing.T) {
	var streamOpens atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			streamOpens.Add(1)
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	m := NewManager(bus)
	ep := testEndpoint(t, srv)
	m.Start(ep)
	waitForStreamOpens(t, &streamOpens, 1)

	// Re-saving an unchanged address still reconnects everything; the
	// stream must be reopened, not reused.
	m.Start(ep)
	defer m.Stop()
	waitForStreamOpens(t, &streamOpens, 2)
}

func waitForStreamOpens(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stream opens = %d, want at least %d", counter.Load(), want)
}

func TestManagerCommandWhenStopped(t *testing.T) {
	m := NewManager(eventbus.New())
	if _, err := m.Command(context.Background(), "stop", nil); err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestManagerStreamEventsReachBus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("data: {\"type\":\"log\",\"level\":\"warning\",\"message\":\"low battery\"}\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()
	logSub := eventbus.SubscribeTo(bus, eventbus.TelemetryLog)
	defer logSub.Close()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	defer m.Stop()

	event := waitFor(t, logSub)
	if event.Entry.Description != "low battery" {
		t.Fatalf("entry = %+v", event.Entry)
	}
	if event.Entry.Level != telemetry.LevelWarn {
		t.Fatalf("level = %q, want warn", event.Entry.Level)
	}
}

func TestManagerStaleEpochDiscarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(`{"mode":"idle"}`))
		case "/api/events":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Shutdown()

	m := NewManager(bus)
	m.Start(testEndpoint(t, srv))
	staleEpoch := m.epoch.Load()
	m.Stop()

	statusSub := eventbus.SubscribeTo(bus, eventbus.TelemetryStatus)
	defer statusSub.Close()

	m.applySnapshot(staleEpoch, eventbus.SourceCommand, "", telemetry.Snapshot{Mode: "ghost"})

	select {
	case env := <-statusSub.C():
		t.Fatalf("stale-epoch snapshot should not publish, got %+v", env.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

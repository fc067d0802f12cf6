package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/companionbot/petwatch/internal/channels"
	"github.com/companionbot/petwatch/internal/endpoint"
)

// DefaultListen is the loopback address the gateway binds when no
// override is configured.
const DefaultListen = "127.0.0.1:8800"

// Server exposes the local dashboard surface: a WebSocket feed of the
// rendered model, a REST view of the same model, command dispatch and
// manual refresh against the device, device address management, and a
// proxy for the camera stream.
type Server struct {
	hub       *Hub
	manager   *channels.Manager
	tokenHash string

	deviceAddress func() string
	saveAddress   func(ctx context.Context, raw string) error

	httpServer *http.Server
}

// Options configures a gateway server.
type Options struct {
	Listen    string
	Models    ModelSource
	Manager   *channels.Manager
	TokenHash string // bcrypt hash; empty disables auth

	// DeviceAddress reports the stored raw device address for GET
	// /api/config. SaveAddress persists a new one; nil disables the
	// endpoint's POST side.
	DeviceAddress func() string
	SaveAddress   func(ctx context.Context, raw string) error
}

// NewServer assembles a gateway server. Call Start to begin serving.
func NewServer(opts Options) *Server {
	listen := opts.Listen
	if listen == "" {
		listen = DefaultListen
	}

	s := &Server{
		hub:           NewHub(opts.Models),
		manager:       opts.Manager,
		tokenHash:     opts.TokenHash,
		deviceAddress: opts.DeviceAddress,
		saveAddress:   opts.SaveAddress,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.requireToken(s.hub.HandleWebSocket))
	mux.HandleFunc("/api/view", s.requireToken(s.handleView))
	mux.HandleFunc("/api/commands", s.requireToken(s.handleCommand))
	mux.HandleFunc("/api/refresh", s.requireToken(s.handleRefresh))
	mux.HandleFunc("/api/config", s.requireToken(s.handleConfig))
	mux.HandleFunc("/stream.mjpg", s.requireToken(s.handleStream))

	s.httpServer = &http.Server{
		Addr:    listen,
		Handler: mux,
	}
	return s
}

// Hub returns the fanout hub, for wiring to the reconciler callback.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go s.hub.Run()
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Gateway] serve error: %v", err)
		}
	}()
	log.Printf("[Gateway] listening on %s", listener.Addr())
	return nil
}

// Shutdown stops accepting connections and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Stop()
	return err
}

// requireToken enforces the configured bearer token. With no token hash
// configured the gateway is open, which is only sensible on loopback.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if s.tokenHash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// WebSocket clients in browsers cannot set headers; allow a query
	// parameter as the fallback.
	return r.URL.Query().Get("token")
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.hub.models == nil {
		writeError(w, http.StatusServiceUnavailable, "no view available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.models.Model())
}

// handleCommand dispatches one action to the device through the channel
// manager, so state returned by the device feeds the live model.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.manager == nil || s.manager.Client() == nil {
		writeError(w, http.StatusServiceUnavailable, "device not connected")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, _ := payload["action"].(string)
	if action == "" {
		writeError(w, http.StatusBadRequest, "missing action")
		return
	}
	delete(payload, "action")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	result, err := s.manager.Command(ctx, action, payload)
	if err != nil {
		if errors.Is(err, channels.ErrNotStarted) {
			writeError(w, http.StatusServiceUnavailable, "device not connected")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": result.Status,
		"state":  result.State,
	})
}

// handleRefresh schedules an immediate out-of-band poll of every channel,
// ahead of the regular tick schedule.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "device not connected")
		return
	}
	for _, kind := range []channels.Kind{channels.KindStatus, channels.KindCloudLog, channels.KindInsight} {
		s.manager.ForceRefresh(kind)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleConfig exposes the stored device address. Saving a new address
// re-resolves the endpoint and restarts every channel against it.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		address := ""
		if s.deviceAddress != nil {
			address = s.deviceAddress()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"device_address": address})

	case http.MethodPost:
		if s.saveAddress == nil {
			writeError(w, http.StatusNotImplemented, "address changes not supported")
			return
		}
		var body struct {
			DeviceAddress string `json:"device_address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		resolved, err := endpoint.Resolve(body.DeviceAddress)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid device address")
			return
		}
		if err := s.saveAddress(r.Context(), body.DeviceAddress); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "ok",
			"resolved": resolved.String(),
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStream proxies the device camera feed so dashboards only ever
// talk to the gateway.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil || s.manager.Client() == nil {
		writeError(w, http.StatusServiceUnavailable, "device not connected")
		return
	}
	client := s.manager.Client()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, client.BaseURL()+"/stream.mjpg", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	upstream, err := client.StreamingHTTPClient().Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer upstream.Body.Close()

	if ct := upstream.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(upstream.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := upstream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

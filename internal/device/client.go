package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/companionbot/petwatch/internal/endpoint"
	"github.com/companionbot/petwatch/internal/telemetry"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8 << 10
)

// Client communicates with the robot's control server and, through its
// proxy endpoints, the cloud logging/analysis backend.
type Client struct {
	baseURL    string
	httpClient *http.Client

	streamHTTPClient *http.Client
	streamOnce       sync.Once
}

// New constructs a client bound to the resolved device endpoint.
func New(ep endpoint.Endpoint) *Client {
	return &Client{
		baseURL:    strings.TrimRight(ep.String(), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// BaseURL returns the base HTTP URL the client is configured to use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamingHTTPClient returns an HTTP client configured for long-lived
// streams (timeouts disabled).
func (c *Client) StreamingHTTPClient() *http.Client {
	c.streamOnce.Do(func() {
		clone := *c.httpClient
		clone.Timeout = 0
		c.streamHTTPClient = &clone
	})
	return c.streamHTTPClient
}

// Status fetches one telemetry snapshot via REST.
func (c *Client) Status(ctx context.Context) (telemetry.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return telemetry.Snapshot{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return telemetry.Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return telemetry.Snapshot{}, fmt.Errorf("device status: %w", readAPIError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return telemetry.Snapshot{}, fmt.Errorf("read status response: %w", err)
	}
	return telemetry.DecodeSnapshot(body, time.Now())
}

// CloudLog is the result of one bulk cloud-log fetch.
type CloudLog struct {
	Entries []telemetry.LogEntry
	Path    string
}

type cloudLogDTO struct {
	Status  string           `json:"status"`
	LogPath string           `json:"log_path"`
	Entries []map[string]any `json:"entries"`
	Content string           `json:"content"`
	Error   string           `json:"error"`
}

// CloudLog fetches today's activity log through the device's cloud proxy.
// Structured entries are preferred; when only the raw blob is present it
// is split and parsed line by line, with unparseable lines surfaced as
// synthetic error entries rather than dropped.
func (c *Client) CloudLog(ctx context.Context) (CloudLog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/gcp-log", nil)
	if err != nil {
		return CloudLog{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CloudLog{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CloudLog{}, fmt.Errorf("cloud log: %w", readAPIError(resp))
	}

	var dto cloudLogDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return CloudLog{}, fmt.Errorf("decode cloud log response: %w", err)
	}
	if dto.Status != "ok" {
		msg := strings.TrimSpace(dto.Error)
		if msg == "" {
			msg = "cloud backend reported an error"
		}
		return CloudLog{}, fmt.Errorf("cloud log: %s", msg)
	}

	now := time.Now()
	result := CloudLog{Path: dto.LogPath}
	switch {
	case len(dto.Entries) > 0:
		result.Entries = make([]telemetry.LogEntry, 0, len(dto.Entries))
		for _, record := range dto.Entries {
			result.Entries = append(result.Entries, telemetry.NormalizeLogRecord(record, now))
		}
	case dto.Content != "":
		result.Entries = telemetry.ParseLogBlob(dto.Content, now)
	}
	return result, nil
}

type insightDTO struct {
	Status   string         `json:"status"`
	Analysis map[string]any `json:"analysis"`
	Report   map[string]any `json:"report"`
	Result   map[string]any `json:"result"`
	Data     map[string]any `json:"data"`
	Error    string         `json:"error"`
}

// EmotionInsight fetches the latest behaviour analysis. The backend has
// shipped the analysis under several field names over time; the first
// non-empty one wins.
func (c *Client) EmotionInsight(ctx context.Context) (telemetry.EmotionInsight, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/emotion-insight", nil)
	if err != nil {
		return telemetry.EmotionInsight{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return telemetry.EmotionInsight{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return telemetry.EmotionInsight{}, fmt.Errorf("emotion insight: %w", readAPIError(resp))
	}

	var dto insightDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return telemetry.EmotionInsight{}, fmt.Errorf("decode insight response: %w", err)
	}
	if dto.Status != "ok" {
		msg := strings.TrimSpace(dto.Error)
		if msg == "" {
			msg = "cloud backend reported an error"
		}
		return telemetry.EmotionInsight{}, fmt.Errorf("emotion insight: %s", msg)
	}

	for _, record := range []map[string]any{dto.Analysis, dto.Report, dto.Result, dto.Data} {
		if len(record) > 0 {
			return telemetry.DecodeInsight(record), nil
		}
	}
	return telemetry.EmotionInsight{}, nil
}

// CommandResult is the device's reply to a dispatched command.
type CommandResult struct {
	Status string
	State  *telemetry.Snapshot
}

type commandResponseDTO struct {
	Status string          `json:"status"`
	State  json.RawMessage `json:"state"`
}

// Command dispatches one action to the device. Extra params are merged
// into the request body alongside the action name.
func (c *Client) Command(ctx context.Context, action string, params map[string]any) (CommandResult, error) {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandResult{}, fmt.Errorf("marshal command payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/commands", bytes.NewReader(payload))
	if err != nil {
		return CommandResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CommandResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CommandResult{}, fmt.Errorf("command %s: %w", action, readAPIError(resp))
	}

	var dto commandResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return CommandResult{}, fmt.Errorf("decode command response: %w", err)
	}

	result := CommandResult{Status: dto.Status}
	if len(dto.State) > 0 && string(dto.State) != "null" {
		snap, err := telemetry.DecodeSnapshot(dto.State, time.Now())
		if err == nil {
			result.State = &snap
		}
	}
	return result, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Detail); msg != "" {
				return errors.New(msg)
			}
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
		// Fall back to the raw payload for diagnostics when parsing fails
		// or the response carries neither field.
	}
	return errors.New(trimmed)
}

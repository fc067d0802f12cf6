package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const (
	streamScannerInitialBuf = 64 * 1024
	streamScannerMaxBuf     = 1024 * 1024
)

// Stream is one live connection to the device's server-sent event feed.
// Events are delivered in arrival order on Events; when the channel
// closes, Err reports why the stream ended.
type Stream struct {
	events chan []byte
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// OpenEvents connects to the device's push feed. The stream stays open
// until the server drops it, ctx is cancelled, or Close is called.
func (c *Client) OpenEvents(ctx context.Context) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.StreamingHTTPClient().Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream: %w", readAPIError(resp))
	}

	s := &Stream{
		events: make(chan []byte, 32),
		cancel: cancel,
	}

	go func() {
		defer resp.Body.Close()
		defer close(s.events)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, streamScannerInitialBuf), streamScannerMaxBuf)

		var data bytes.Buffer
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				// Blank line terminates one event.
				if data.Len() > 0 {
					payload := make([]byte, data.Len())
					copy(payload, data.Bytes())
					data.Reset()
					select {
					case s.events <- payload:
					case <-streamCtx.Done():
						s.setErr(streamCtx.Err())
						return
					}
				}
			case strings.HasPrefix(line, ":"):
				// Comment / keepalive.
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			default:
				// Other SSE fields (event, id, retry) are not used by the
				// device and are ignored.
			}
		}
		if err := scanner.Err(); err != nil {
			s.setErr(err)
		}
	}()

	return s, nil
}

// Events returns the channel of raw event payloads. It closes when the
// stream ends for any reason.
func (s *Stream) Events() <-chan []byte {
	return s.events
}

// Err reports why the stream ended. Nil means a clean server-side close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the stream down. Events closes shortly after.
func (s *Stream) Close() {
	s.cancel()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

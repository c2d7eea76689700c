package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codekarta/filedock/pkg/protocol"
)

// EventStream subscribes to the server's change event feed and
// reconnects with backoff when the connection drops.
type EventStream struct {
	baseURL      string
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu        sync.RWMutex
	authToken string
}

// NewEventStream creates an event stream for the given server.
func NewEventStream(baseURL string) *EventStream {
	return &EventStream{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No client timeout; the stream stays open until cancelled.
		httpClient:   &http.Client{},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// SetAuthToken sets the session token used on (re)connect.
func (s *EventStream) SetAuthToken(token string) {
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()
}

// Subscribe opens the stream and returns a channel of decoded events.
// Connection errors are reported on the second channel and followed by
// a reconnect attempt; both channels close when ctx is cancelled.
func (s *EventStream) Subscribe(ctx context.Context) (<-chan protocol.SSEEvent, <-chan error) {
	eventCh := make(chan protocol.SSEEvent, 64)
	errCh := make(chan error, 1)
	go s.run(ctx, eventCh, errCh)
	return eventCh, errCh
}

func (s *EventStream) run(ctx context.Context, eventCh chan<- protocol.SSEEvent, errCh chan<- error) {
	defer close(eventCh)
	defer close(errCh)

	delay := s.reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connect(ctx, eventCh)
		if ctx.Err() != nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.reconnectMax {
			delay = s.reconnectMax
		}
	}
}

// connect reads frames until the connection drops. Always returns a
// non-nil error; a clean EOF still triggers a reconnect.
func (s *EventStream) connect(ctx context.Context, eventCh chan<- protocol.SSEEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/events", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.mu.RLock()
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	s.mu.RUnlock()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				var event protocol.SSEEvent
				if err := json.Unmarshal([]byte(data), &event); err == nil {
					select {
					case eventCh <- event:
					case <-ctx.Done():
						return ctx.Err()
					default:
						// Slow consumer; drop the event.
					}
				}
				data = ""
			}
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream closed")
}

package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"batchml/internal/api"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EventStream is a connection to the service's training event stream.
type EventStream struct {
	conn *websocket.Conn
}

// eventsURL maps the http(s) base address to the ws(s) stream address.
func eventsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws/events"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws/events"
	default:
		return "ws://" + base + "/ws/events"
	}
}

// Events connects to the event stream.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	url := eventsURL(c.base)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	conn.SetReadLimit(512 * 1024)
	log.Debug().Str("url", url).Msg("Connected to event stream")
	return &EventStream{conn: conn}, nil
}

// Next blocks until the next event arrives.
func (s *EventStream) Next() (api.Event, error) {
	var ev api.Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		return api.Event{}, err
	}
	return ev, nil
}

// Stream forwards the events of runID to events until the run finishes or
// fails, ctx is done or the connection drops. An empty runID forwards
// everything and only stops on ctx or a dropped connection. events is not
// closed.
func (s *EventStream) Stream(ctx context.Context, runID string, events chan<- api.Event) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks the pending read
			_ = s.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		ev, err := s.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if runID != "" && ev.RunID != runID {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}

		if runID != "" && (ev.Type == api.EventFinished || ev.Type == api.EventFailed) {
			return nil
		}
	}
}

// Close closes the connection.
func (s *EventStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

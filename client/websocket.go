package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ListenProgress connects to the server's websocket and streams progress
// events for jobs submitted by this client until the context is cancelled or
// the connection drops. The channel is closed on return. Progress is a
// convenience feed; jobs still complete through history polling when the
// websocket is unavailable.
func (c *Client) ListenProgress(ctx context.Context) (<-chan ProgressEvent, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}

	events := make(chan ProgressEvent)
	go func() {
		defer close(events)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("websocket closed", "error", err)
				}
				return
			}
			event, ok := decodeProgressMessage(data)
			if !ok {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("clientId", c.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeProgressMessage maps the message types we care about onto
// ProgressEvent; everything else is skipped.
func decodeProgressMessage(data []byte) (ProgressEvent, bool) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ProgressEvent{}, false
	}
	switch msg.Type {
	case "progress":
		var d wsProgressData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return ProgressEvent{}, false
		}
		return ProgressEvent{PromptID: d.PromptID, Node: d.Node, Value: d.Value, Max: d.Max}, true
	case "executing":
		var d wsExecutingData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return ProgressEvent{}, false
		}
		// A nil node means the job left the executor.
		if d.Node == nil {
			return ProgressEvent{PromptID: d.PromptID, Done: true}, true
		}
		return ProgressEvent{PromptID: d.PromptID, Node: *d.Node}, true
	case "execution_error":
		var d wsExecutionErrorData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return ProgressEvent{}, false
		}
		return ProgressEvent{
			PromptID: d.PromptID,
			Err:      fmt.Errorf("node %v (%s): %s", d.NodeID, d.NodeType, d.ExceptionMessage),
		}, true
	}
	return ProgressEvent{}, false
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the dialing side of a hub connection.
type Client struct {
	ws        *websocket.Conn
	namespace string
	writeMu   sync.Mutex
}

// Dial connects to a hub endpoint such as ws://localhost:5005/socket.io.
func Dial(ctx context.Context, url string, namespace string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &Client{ws: ws, namespace: normalizeNamespace(namespace)}, nil
}

// Emit sends one event to the hub.
func (c *Client) Emit(event string, data any) error {
	message, err := newFrame(event, c.namespace, data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, message)
}

// Next blocks until the hub sends the next frame.
func (c *Client) Next() (Frame, error) {
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	return frame, nil
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bus-relay/internal/geo"
)

// Client is a relay connection from the vehicle side. Sends are serialized;
// Receive must be called from a single goroutine.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to a relay websocket endpoint such as ws://host:9002/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

// SendPosition reports pos for vehicleID.
func (c *Client) SendPosition(vehicleID string, pos geo.Position) error {
	msg, err := encode(TypePositionUpdate, PositionUpdate{VehicleID: vehicleID, Position: pos})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// RequestRefresh asks the relay for a fresh initial_sync.
func (c *Client) RequestRefresh() error {
	msg, err := encode(TypeRefreshRequest, nil)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Receive blocks for the next frame from the relay.
func (c *Client) Receive() (Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	return Decode(data)
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// DiscardIncoming reads and drops every server message in the background so
// a send-only client still answers pings. It returns once the connection fails.
func (c *Client) DiscardIncoming() {
	go func() {
		for {
			if _, _, err := c.conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

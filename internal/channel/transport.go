package channel

import (
	"context"

	"github.com/gorilla/websocket"
)

// Transport is one established push connection.
//
// ReadMessage blocks until a frame arrives or the connection fails;
// after a failure the transport is dead and must be closed.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes Transports. The production implementation dials a
// websocket; tests substitute a scripted fake.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string) (Transport, error)
}

// websocketDialer dials real websocket connections.
type websocketDialer struct{}

// DialContext implements Dialer.
func (websocketDialer) DialContext(ctx context.Context, rawURL string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return &websocketTransport{conn: conn}, nil
}

// websocketTransport adapts *websocket.Conn to the Transport interface.
type websocketTransport struct {
	conn *websocket.Conn
}

// ReadMessage reads one frame, ignoring the frame type; the channel
// protocol is JSON text frames throughout.
func (t *websocketTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// WriteMessage writes one text frame.
func (t *websocketTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection.
func (t *websocketTransport) Close() error {
	return t.conn.Close()
}

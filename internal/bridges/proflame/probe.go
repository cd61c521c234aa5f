package proflame

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// defaultProbeTimeout bounds a whole probe when ctx has no deadline.
const defaultProbeTimeout = 10 * time.Second

// Probe opens a throwaway connection to host:port, sends the handshake and
// checks that the first reply is the handshake acknowledgement. It shares
// nothing with any running Client.
//
// Returns:
//   - error: nil if the controller acknowledged, otherwise the reason
func Probe(ctx context.Context, host string, port int) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}
	deadline, _ := ctx.Deadline()

	url := ClientConfig{Host: host, Port: port}.URL()
	dialer := websocket.Dialer{HandshakeTimeout: time.Until(deadline)}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, url, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ControlHandshake)); err != nil {
		return fmt.Errorf("%w: sending handshake: %w", ErrConnectionFailed, err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: reading reply: %w", ErrHandshakeFailed, err)
	}
	if string(reply) != ControlHandshakeAck {
		return fmt.Errorf("%w: unexpected reply %q", ErrHandshakeFailed, preview(reply))
	}

	return nil
}

// TestConnectivity reports whether a controller at host:port answers the
// handshake. Any error counts as failure.
func TestConnectivity(ctx context.Context, host string, port int) bool {
	return Probe(ctx, host, port) == nil
}

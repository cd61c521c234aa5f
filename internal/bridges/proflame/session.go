package proflame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// closeGrace bounds the close frame write during teardown.
const closeGrace = time.Second

// logPreviewLen caps how much of an offending frame is logged.
const logPreviewLen = 128

var sessionIDs atomic.Uint64

// session is one websocket connection and the loops running on it.
// It never outlives its socket.
type session struct {
	id     uint64
	client *Client
	conn   *websocket.Conn

	// writeMu serialises the dispatcher, keepalive and handshake writers.
	writeMu sync.Mutex
	acked   atomic.Bool
}

func newSession(c *Client, conn *websocket.Conn) *session {
	return &session{
		id:     sessionIDs.Add(1),
		client: c,
		conn:   conn,
	}
}

// run sends the handshake, then runs the listener, dispatcher and keepalive
// until one of them fails or ctx is cancelled. The socket is closed before
// run returns.
func (s *session) run(ctx context.Context) error {
	c := s.client
	s.conn.SetReadLimit(maxFrameSize)

	if err := s.writeText([]byte(ControlHandshake)); err != nil {
		c.errorsTotal.Add(1)
		return multierr.Append(fmt.Errorf("sending handshake: %w", err), s.conn.Close())
	}

	c.setConnected(true)
	defer c.setConnected(false)
	c.logInfo("fireplace session started", "session", s.id, "url", c.url, "queued", c.queue.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listen(gctx) })
	g.Go(func() error { return s.dispatch(gctx) })
	g.Go(func() error { return s.keepalive(gctx) })
	g.Go(func() error {
		s.watchHandshake(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	err := g.Wait()
	c.logDebug("fireplace session stopped", "session", s.id, "error", err)
	return err
}

// listen reads frames until the socket fails. Every frame is either a
// control message or a delta; malformed deltas are dropped whole.
func (s *session) listen(ctx context.Context) error {
	c := s.client
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.errorsTotal.Add(1)
			return fmt.Errorf("reading frame: %w", err)
		}

		c.framesRx.Add(1)
		c.touch()
		s.handleFrame(data)
	}
}

func (s *session) handleFrame(data []byte) {
	c := s.client

	frame, err := DecodeFrame(data)
	if err != nil {
		c.malformedFrames.Add(1)
		c.logWarn("dropping malformed delta", "session", s.id, "error", err, "frame", preview(data))
		return
	}

	switch frame.Kind {
	case FrameControl:
		s.handleControl(frame.Control)
	case FrameDelta:
		c.store.Apply(frame.Changes)
		c.deltasApplied.Add(1)
		c.changesApplied.Add(uint64(len(frame.Changes)))
	}
}

func (s *session) handleControl(msg string) {
	c := s.client
	c.controlFrames.Add(1)

	switch msg {
	case ControlHandshakeAck:
		s.acked.Store(true)
		c.setAcked()
		c.logDebug("handshake acknowledged", "session", s.id)
	case ControlPong:
		c.logDebug("pong received", "session", s.id)
	default:
		c.logWarn("unknown control message", "session", s.id, "frame", preview([]byte(msg)))
	}
}

// dispatch transmits queued commands in order. The head is removed only
// after its frame was written. A failed write ends the session with the
// head still queued, so the next session transmits it first.
func (s *session) dispatch(ctx context.Context) error {
	c := s.client
	for {
		cmd, err := c.queue.Peek(ctx)
		if err != nil {
			return nil //nolint:nilerr // cancellation or client close
		}

		frame, err := EncodeWrite(cmd.Attribute, cmd.Value)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("dropping unencodable command", "attribute", cmd.Attribute, "value", cmd.Value, "error", err)
			c.queue.Remove(cmd.Seq)
			continue
		}

		if err := s.writeText(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.errorsTotal.Add(1)
			c.logWarn("command transmit failed, reconnecting",
				"session", s.id,
				"attribute", cmd.Attribute,
				"seq", cmd.Seq,
				"error", err,
			)
			return fmt.Errorf("transmitting %s (seq %d): %w", cmd.Attribute, cmd.Seq, err)
		}

		c.queue.Remove(cmd.Seq)
		c.commandsSent.Add(1)
		c.logDebug("command sent", "session", s.id, "attribute", cmd.Attribute, "value", cmd.Value, "seq", cmd.Seq)
	}
}

// keepalive pings the controller every PingInterval. Pongs are not tracked;
// a failed ping ends the session.
func (s *session) keepalive(ctx context.Context) error {
	c := s.client
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.writeText([]byte(ControlPing)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.errorsTotal.Add(1)
			c.logWarn("keepalive ping failed, reconnecting", "session", s.id, "error", err)
			return fmt.Errorf("sending keepalive: %w", err)
		}
	}
}

// watchHandshake logs once if the handshake ack does not arrive in time.
// A missing ack does not end the session.
func (s *session) watchHandshake(ctx context.Context) {
	timer := time.NewTimer(s.client.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		if !s.acked.Load() {
			s.client.logWarn("handshake not acknowledged", "session", s.id, "waited", s.client.cfg.HandshakeTimeout.String())
		}
	}
}

// writeText writes one text frame under the session write lock.
func (s *session) writeText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.client.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}

	s.client.framesTx.Add(1)
	s.client.touch()
	return nil
}

// shutdown sends a best-effort close frame and closes the socket, which
// unblocks the listener.
func (s *session) shutdown() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return multierr.Append(err, s.conn.Close())
}

func preview(data []byte) string {
	if len(data) > logPreviewLen {
		return string(data[:logPreviewLen]) + "..."
	}
	return string(data)
}

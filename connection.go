package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/switchupcb/websocket"

	"github.com/shardkit/gateway/internal/socket"
)

// recvBudget is the bounded receive deadline described in spec §4.2/§9. It is
// a load-bearing constant: a shard that blocks longer than this on a single
// receive cannot service control messages or heartbeat deadlines in time.
const recvBudget = 500 * time.Millisecond

// ShardConnection is a thin adapter around an established WebSocket carrying
// Discord gateway text frames (§4.2).
//
// switchupcb/websocket (a fork of nhooyr.io/websocket) closes the underlying
// connection when a Read's context is canceled or times out. recv_next's
// bounded-budget semantics are therefore implemented with a persistent
// background reader goroutine feeding a channel, rather than by wrapping
// each Reader call in a short-lived context — the latter would tear down the
// socket every time the budget elapsed with nothing to read.
type ShardConnection struct {
	conn *websocket.Conn

	frames chan *GatewayPayload
	errs   chan error
	done   chan struct{}
}

// openConnection performs the WebSocket handshake at url.
func openConnection(ctx context.Context, url string) (*ShardConnection, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &ShardConnection{
		conn:   conn,
		frames: make(chan *GatewayPayload, 1),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// readLoop continuously decodes frames off the wire and forwards them, so
// that recvNext's select against a timer never blocks the underlying Read.
func (c *ShardConnection) readLoop() {
	for {
		payload := getPayload()

		if err := socket.Read(context.Background(), c.conn, payload); err != nil {
			putPayload(payload)

			select {
			case c.errs <- err:
			case <-c.done:
			}

			return
		}

		select {
		case c.frames <- payload:
		case <-c.done:
			putPayload(payload)

			return
		}
	}
}

// recvNext awaits one frame with a bounded deadline (default recvBudget). A
// nil, nil result means the budget elapsed with nothing to read, so the
// caller can service control messages and heartbeat deadlines.
func (c *ShardConnection) recvNext(ctx context.Context, budget time.Duration) (Inbound, error) {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case payload := <-c.frames:
		inbound, err := decodeInbound(payload)
		putPayload(payload)

		return inbound, err

	case err := <-c.errs:
		closeErr := new(websocket.CloseError)
		if errors.As(err, closeErr) {
			return nil, &ClosedError{Code: int(closeErr.Code), Reason: closeErr.Reason}
		}

		return nil, &TransportError{Op: "read", Err: err}

	case <-timer.C:
		return nil, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send JSON-encodes and writes outbound as a text frame.
func (c *ShardConnection) send(ctx context.Context, outbound *GatewayPayload) error {
	if err := socket.Write(ctx, c.conn, outbound); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}

// close initiates a graceful close, signaling the background reader to stop.
func (c *ShardConnection) close(code websocket.StatusCode, reason string) error {
	close(c.done)

	return c.conn.Close(code, reason)
}

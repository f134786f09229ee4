// Package socket provides buffer-pooled JSON framing over a WebSocket
// connection for the gateway core.
package socket

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/switchupcb/websocket"
)

// ErrUnsupportedFrame is returned when a binary frame is received. The core
// does not support zlib-stream or ETF compressed payloads (§1 non-goal).
var ErrUnsupportedFrame = errors.New("socket: binary frames are unsupported")

// Read reads one JSON text frame from conn into dst.
func Read(ctx context.Context, conn *websocket.Conn, dst any) error {
	messageType, reader, err := conn.Reader(ctx)
	if err != nil {
		return err
	}

	if messageType != websocket.MessageText {
		return ErrUnsupportedFrame
	}

	// reuse buffers between calls to avoid allocating one per frame.
	b := get()
	defer put(b)

	if _, err := b.ReadFrom(reader); err != nil {
		return err
	}

	if err := json.Unmarshal(b.Bytes(), dst); err != nil {
		return fmt.Errorf("socket.Read to %T: %w", dst, err)
	}

	return nil
}

// Write writes dst to conn as a single JSON text frame.
func Write(ctx context.Context, conn *websocket.Conn, dst any) error {
	writer, err := conn.Writer(ctx, websocket.MessageText)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(writer).Encode(dst); err != nil {
		return err
	}

	return writer.Close()
}

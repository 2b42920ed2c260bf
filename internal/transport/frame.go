// Package transport implements the wire codec every plugin and CLI
// connection speaks: a 4-byte little-endian length prefix followed by a
// JSON-encoded Event, over a persistent net.Conn (spec §6.1).
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/nispor/censorate/internal/event"
)

// MaxFrameBytes bounds a single frame's JSON payload, guarding against a
// malformed or hostile peer claiming an unbounded length prefix.
const MaxFrameBytes = 16 << 20 // 16 MiB

// WriteFrame encodes evt and writes it to w as one length-prefixed
// frame. Safe to call concurrently on distinct Conns; callers sharing a
// single Conn must serialize their own writes (see Conn.Send).
func WriteFrame(w io.Writer, evt event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("transport: marshal event: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit %d", len(body), MaxFrameBytes)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write length header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write body: %w", err)
	}
	return nil
}

// ReadFrame blocks until one full frame is available on r and decodes
// it into an Event.
func ReadFrame(r *bufio.Reader) (event.Event, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return event.Event{}, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameBytes {
		return event.Event{}, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", n, MaxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return event.Event{}, fmt.Errorf("transport: read body: %w", err)
	}
	var evt event.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return event.Event{}, fmt.Errorf("transport: decode event: %w", err)
	}
	return evt, nil
}

// Conn wraps a net.Conn with the frame codec and a write mutex so
// multiple goroutines (the Switch fanning out, a reader loop replying)
// can share one connection safely.
type Conn struct {
	name string
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps conn, identified by name for logging (typically the
// plugin name once known, or the remote address before the handshake).
func NewConn(name string, conn net.Conn) *Conn {
	return &Conn{name: name, conn: conn, r: bufio.NewReader(conn)}
}

func (c *Conn) Name() string { return c.name }

// Rename updates the Conn's display name once the handshake reveals the
// plugin's declared name.
func (c *Conn) Rename(name string) { c.name = name }

// Send writes evt as one frame; safe for concurrent use.
func (c *Conn) Send(evt event.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, evt)
}

// Recv blocks for the next frame.
func (c *Conn) Recv() (event.Event, error) {
	return ReadFrame(c.r)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

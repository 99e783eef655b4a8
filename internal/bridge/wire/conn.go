package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	appErr "ojbridge/pkg/errors"
)

// Frame format: a 4-byte unsigned big-endian payload length, then that
// many bytes of zlib-compressed compact JSON.
const lengthPrefixSize = 4

// MaxFrameSize bounds a single frame; source uploads dominate and stay
// well under this.
const MaxFrameSize = 64 << 20

// Conn exchanges framed packets over a bidirectional stream. Writes are
// serialized so the ping loop and routed dispatch requests can share a
// judge connection; reads belong to a single owner.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex
}

// NewConn wraps an established stream connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dial connects to addr within timeout. Connect failures are transport
// errors; this layer never retries.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TransportError, "dial %s failed", addr)
	}
	return NewConn(conn), nil
}

// Send serializes, compresses and frames a packet.
func (c *Conn) Send(p Packet) error {
	body, err := json.Marshal(p)
	if err != nil {
		return appErr.Wrap(err, appErr.BadPayload)
	}

	var payload bytes.Buffer
	zw := zlib.NewWriter(&payload)
	if _, err := zw.Write(body); err != nil {
		return appErr.Wrap(err, appErr.BadPayload)
	}
	if err := zw.Close(); err != nil {
		return appErr.Wrap(err, appErr.BadPayload)
	}

	frame := make([]byte, lengthPrefixSize+payload.Len())
	binary.BigEndian.PutUint32(frame, uint32(payload.Len()))
	copy(frame[lengthPrefixSize:], payload.Bytes())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return appErr.Wrap(err, appErr.TransportError)
	}
	return nil
}

// Receive blocks for one inbound packet.
func (c *Conn) Receive() (Packet, error) {
	prefix := make([]byte, lengthPrefixSize)
	if err := c.readFull(prefix); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix)
	if length == 0 || length > MaxFrameSize {
		return nil, appErr.Newf(appErr.ProtocolError, "invalid frame length %d", length)
	}

	payload := make([]byte, length)
	if err := c.readFull(payload); err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.BadPayload)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.BadPayload)
	}
	_ = zr.Close()

	var p Packet
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, appErr.Wrap(err, appErr.BadPayload)
	}
	return p, nil
}

// Request sends a packet and blocks for exactly one reply. There is no
// cancellation; a caller that gives up must separately send an explicit
// terminate message.
func (c *Conn) Request(p Packet) (Packet, error) {
	if err := c.Send(p); err != nil {
		return nil, err
	}
	return c.Receive()
}

// readFull distinguishes a peer that closed cleanly at a read boundary
// (protocol error: it did not respond) from a truncated frame and from
// plain transport failures.
func (c *Conn) readFull(buf []byte) error {
	n, err := io.ReadFull(c.conn, buf)
	if err == nil {
		return nil
	}
	if err == io.EOF && n == 0 {
		return appErr.New(appErr.ProtocolError).WithMessage("peer closed without responding")
	}
	if err == io.ErrUnexpectedEOF {
		return appErr.Wrap(err, appErr.TruncatedFrame)
	}
	return appErr.Wrap(err, appErr.TransportError)
}

// SetReadDeadline bounds the next Receive.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

package wire_test

import (
	"encoding/binary"
	"net"
	"testing"

	"ojbridge/internal/bridge/wire"
	appErr "ojbridge/pkg/errors"
)

func pipeConns(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return wire.NewConn(a), wire.NewConn(b)
}

func TestConnRoundTrip(t *testing.T) {
	client, server := pipeConns(t)

	sent := wire.Packet{
		"name":          "submission-request",
		"submission-id": float64(17),
		"problem-id":    "aplusb",
		"language":      "CPP17",
		"source":        "int main() {}",
	}
	go func() {
		_ = client.Send(sent)
	}()

	got, err := server.Receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if got.Name() != "submission-request" {
		t.Fatalf("expected name submission-request, got %q", got.Name())
	}
	if got.SubmissionID() != 17 {
		t.Fatalf("expected submission-id 17, got %d", got.SubmissionID())
	}
	if got.Str("problem-id") != "aplusb" || got.Str("source") != "int main() {}" {
		t.Fatalf("payload fields did not survive the round trip: %#v", got)
	}
}

func TestConnRequestReply(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		p, err := server.Receive()
		if err != nil {
			return
		}
		_ = server.Send(wire.Packet{
			"name":          "submission-received",
			"submission-id": p.SubmissionID(),
		})
	}()

	reply, err := client.Request(wire.Packet{"name": "submission-request", "submission-id": float64(3)})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if reply.Name() != "submission-received" || reply.SubmissionID() != 3 {
		t.Fatalf("unexpected reply: %#v", reply)
	}
}

func TestConnPeerClosedAtPrefix(t *testing.T) {
	a, b := net.Pipe()
	server := wire.NewConn(b)
	_ = a.Close()

	_, err := server.Receive()
	if err == nil || !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error for closed peer, got %v", err)
	}
}

func TestConnTruncatedFrame(t *testing.T) {
	a, b := net.Pipe()
	server := wire.NewConn(b)

	go func() {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, 1024)
		_, _ = a.Write(prefix)
		_, _ = a.Write([]byte("short"))
		_ = a.Close()
	}()

	_, err := server.Receive()
	if err == nil || !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error for truncated frame, got %v", err)
	}
	if !appErr.Is(err, appErr.TruncatedFrame) {
		t.Fatalf("expected truncated frame code, got %v", appErr.GetCode(err))
	}
}

func TestConnGarbagePayload(t *testing.T) {
	a, b := net.Pipe()
	server := wire.NewConn(b)

	go func() {
		payload := []byte("this is not zlib")
		frame := make([]byte, 4+len(payload))
		binary.BigEndian.PutUint32(frame, uint32(len(payload)))
		copy(frame[4:], payload)
		_, _ = a.Write(frame)
	}()

	_, err := server.Receive()
	if err == nil || !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error for garbage payload, got %v", err)
	}
}

func TestConnZeroLengthFrame(t *testing.T) {
	a, b := net.Pipe()
	server := wire.NewConn(b)

	go func() {
		_, _ = a.Write([]byte{0, 0, 0, 0})
	}()

	_, err := server.Receive()
	if err == nil || !wire.IsProtocolError(err) {
		t.Fatalf("expected protocol error for zero-length frame, got %v", err)
	}
}

func TestDialRefusedIsTransportError(t *testing.T) {
	// Reserve a port and close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	_, err = wire.Dial(addr, 0)
	if err == nil || !wire.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

package session_test

import (
	"context"
	"testing"
	"time"

	"ojbridge/internal/bridge/model"
	"ojbridge/internal/bridge/registry"
	"ojbridge/internal/bridge/session"
	"ojbridge/internal/bridge/wire"
)

func startServer(t *testing.T, judges *memJudges, subs *memSubs) (*session.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	srv := session.NewServer(session.ServerConfig{
		JudgeAddr:   "127.0.0.1:0",
		RequestAddr: "127.0.0.1:0",
	}, judges, subs, reg, newTestMachine(subs))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, reg
}

func connectJudge(t *testing.T, srv *session.Server, reg *registry.Registry) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial(srv.JudgeAddr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("judge dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Send(handshakePacket()); err != nil {
		t.Fatalf("handshake send failed: %v", err)
	}
	reply, err := conn.Receive()
	if err != nil {
		t.Fatalf("handshake reply failed: %v", err)
	}
	if reply.Name() != "handshake-success" {
		t.Fatalf("expected handshake-success, got %q", reply.Name())
	}
	waitFor(t, "registration", func() bool { return reg.Count() == 1 })
	return conn
}

func TestServerSubmissionRoundTrip(t *testing.T) {
	t.Parallel()
	judges := newMemJudges(&model.Judge{Name: "judge-1", AuthKey: "sekrit"})
	subs := newMemSubs(&model.Submission{
		ID: 9, Status: model.StatusQueued,
		ProblemCode: "aplusb", LanguageKey: "CPP17", Source: "int main(){}",
	})
	srv, reg := startServer(t, judges, subs)
	judgeConn := connectJudge(t, srv, reg)

	dispatchConn, err := wire.Dial(srv.RequestAddr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dispatch dial failed: %v", err)
	}
	defer dispatchConn.Close()

	replyCh := make(chan wire.Packet, 1)
	errCh := make(chan error, 1)
	go func() {
		reply, err := dispatchConn.Request(wire.Packet{
			"name":          "submission-request",
			"submission-id": int64(9),
		})
		if err != nil {
			errCh <- err
			return
		}
		replyCh <- reply
	}()

	req, err := judgeConn.Receive()
	if err != nil {
		t.Fatalf("judge receive failed: %v", err)
	}
	if req.Name() != "submission-request" || req.SubmissionID() != 9 {
		t.Fatalf("unexpected judge-side packet: %v", req)
	}
	if err := judgeConn.Send(wire.Packet{"name": "submission-acknowledged", "submission-id": float64(9)}); err != nil {
		t.Fatalf("ack send failed: %v", err)
	}

	select {
	case reply := <-replyCh:
		if reply.Name() != "submission-received" || reply.SubmissionID() != 9 {
			t.Fatalf("unexpected dispatch reply: %v", reply)
		}
	case err := <-errCh:
		t.Fatalf("dispatch request failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch reply")
	}
}

func TestServerRejectsWhenNoJudgeEligible(t *testing.T) {
	t.Parallel()
	judges := newMemJudges(&model.Judge{Name: "judge-1", AuthKey: "sekrit"})
	subs := newMemSubs(&model.Submission{
		ID: 10, Status: model.StatusQueued,
		ProblemCode: "unknown-problem", LanguageKey: "CPP17",
	})
	srv, reg := startServer(t, judges, subs)
	connectJudge(t, srv, reg)

	dispatchConn, err := wire.Dial(srv.RequestAddr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dispatch dial failed: %v", err)
	}
	defer dispatchConn.Close()

	reply, err := dispatchConn.Request(wire.Packet{
		"name":          "submission-request",
		"submission-id": int64(10),
	})
	if err != nil {
		t.Fatalf("dispatch request failed: %v", err)
	}
	if reply.Name() != "submission-rejected" || reply.SubmissionID() != 10 {
		t.Fatalf("expected submission-rejected, got %v", reply)
	}
}

func TestServerRoutesTerminateToGradingJudge(t *testing.T) {
	t.Parallel()
	judges := newMemJudges(&model.Judge{Name: "judge-1", AuthKey: "sekrit"})
	subs := newMemSubs(&model.Submission{
		ID: 11, Status: model.StatusQueued,
		ProblemCode: "aplusb", LanguageKey: "CPP17",
	})
	srv, reg := startServer(t, judges, subs)
	judgeConn := connectJudge(t, srv, reg)

	dispatchConn, err := wire.Dial(srv.RequestAddr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dispatch dial failed: %v", err)
	}
	defer dispatchConn.Close()

	go func() {
		_, _ = dispatchConn.Request(wire.Packet{
			"name":          "submission-request",
			"submission-id": int64(11),
		})
	}()
	if _, err := judgeConn.Receive(); err != nil {
		t.Fatalf("judge receive failed: %v", err)
	}
	if err := judgeConn.Send(wire.Packet{"name": "submission-acknowledged", "submission-id": float64(11)}); err != nil {
		t.Fatalf("ack send failed: %v", err)
	}

	if err := dispatchConn.Send(wire.Packet{
		"name":          "terminate-submission",
		"submission-id": int64(11),
	}); err != nil {
		t.Fatalf("terminate send failed: %v", err)
	}

	term, err := judgeConn.Receive()
	if err != nil {
		t.Fatalf("judge receive failed: %v", err)
	}
	if term.Name() != "terminate-submission" || term.SubmissionID() != 11 {
		t.Fatalf("expected terminate-submission for 11, got %v", term)
	}
}

package session

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"ojbridge/internal/bridge/grading"
	"ojbridge/internal/bridge/registry"
	"ojbridge/internal/bridge/repository"
	"ojbridge/internal/bridge/wire"
	appErr "ojbridge/pkg/errors"
	"ojbridge/pkg/utils/logger"
)

// ServerConfig holds the two listen addresses of the bridge.
type ServerConfig struct {
	// JudgeAddr accepts judge connections.
	JudgeAddr string `yaml:"judgeAddr"`

	// RequestAddr accepts dispatch connections from the web side.
	RequestAddr string `yaml:"requestAddr"`
}

// Server accepts judge connections on one listener and dispatch
// requests on another, sharing one registry and one state machine.
type Server struct {
	cfg     ServerConfig
	judges  repository.JudgeStore
	subs    repository.SubmissionStore
	reg     *registry.Registry
	machine *grading.Machine

	mu        sync.Mutex
	judgeLis  net.Listener
	reqLis    net.Listener
	closed    bool
	connWG    sync.WaitGroup
}

func NewServer(
	cfg ServerConfig,
	judges repository.JudgeStore,
	subs repository.SubmissionStore,
	reg *registry.Registry,
	machine *grading.Machine,
) *Server {
	return &Server{
		cfg:     cfg,
		judges:  judges,
		subs:    subs,
		reg:     reg,
		machine: machine,
	}
}

// Start binds both listeners and runs their accept loops until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	judgeLis, err := net.Listen("tcp", s.cfg.JudgeAddr)
	if err != nil {
		return appErr.Wrapf(err, appErr.TransportError, "judge listener on %s: %v", s.cfg.JudgeAddr, err)
	}
	reqLis, err := net.Listen("tcp", s.cfg.RequestAddr)
	if err != nil {
		judgeLis.Close()
		return appErr.Wrapf(err, appErr.TransportError, "request listener on %s: %v", s.cfg.RequestAddr, err)
	}

	s.mu.Lock()
	s.judgeLis = judgeLis
	s.reqLis = reqLis
	s.mu.Unlock()

	logger.Info(ctx, "bridge listening",
		zap.String("judge_addr", judgeLis.Addr().String()),
		zap.String("request_addr", reqLis.Addr().String()))

	go s.acceptJudges(ctx, judgeLis)
	go s.acceptRequests(ctx, reqLis)
	return nil
}

// JudgeAddr returns the bound judge listener address, for tests using
// port 0.
func (s *Server) JudgeAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.judgeLis.Addr()
}

// RequestAddr returns the bound request listener address.
func (s *Server) RequestAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqLis.Addr()
}

// Shutdown stops accepting, disconnects every judge and waits for the
// request handlers to drain.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	if s.judgeLis != nil {
		s.judgeLis.Close()
	}
	if s.reqLis != nil {
		s.reqLis.Close()
	}
	s.mu.Unlock()

	s.reg.DisconnectAll()

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn(ctx, "shutdown timed out waiting for connections")
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) acceptJudges(ctx context.Context, lis net.Listener) {
	for {
		raw, err := lis.Accept()
		if err != nil {
			if !s.isClosed() {
				logger.Error(ctx, "judge accept failed", zap.Error(err))
			}
			return
		}
		go func() {
			_, err := Handshake(ctx, wire.NewConn(raw), s.judges, s.reg, s.machine)
			if err != nil {
				logger.Warn(ctx, "judge handshake rejected",
					zap.String("addr", raw.RemoteAddr().String()),
					zap.Error(err))
			}
		}()
	}
}

func (s *Server) acceptRequests(ctx context.Context, lis net.Listener) {
	for {
		raw, err := lis.Accept()
		if err != nil {
			if !s.isClosed() {
				logger.Error(ctx, "request accept failed", zap.Error(err))
			}
			return
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.serveRequests(ctx, wire.NewConn(raw))
		}()
	}
}

// serveRequests handles one dispatch connection. Each request packet is
// processed in order; only submission-request gets a reply.
func (s *Server) serveRequests(ctx context.Context, conn *wire.Conn) {
	defer conn.Close()
	for {
		p, err := conn.Receive()
		if err != nil {
			if wire.IsProtocolError(err) {
				logger.Warn(ctx, "malformed dispatch packet", zap.Error(err))
			}
			return
		}
		switch p.Name() {
		case "submission-request":
			s.onSubmissionRequest(ctx, conn, p)
		case "terminate-submission":
			s.reg.AbortSubmission(ctx, p.SubmissionID())
		default:
			logger.Warn(ctx, "unknown dispatch packet", zap.String("packet", p.Name()))
		}
	}
}

// onSubmissionRequest routes the submission to the least-loaded capable
// judge. The reply mirrors the submission id so the dispatch client can
// verify the hand-off.
func (s *Server) onSubmissionRequest(ctx context.Context, conn *wire.Conn, p wire.Packet) {
	id := p.SubmissionID()
	ctx = logger.WithSubmission(ctx, id)
	if rid := p.Str("request-id"); rid != "" {
		ctx = logger.WithRequest(ctx, rid)
	}

	reject := func(reason string, err error) {
		logger.Warn(ctx, "submission rejected",
			zap.String("reason", reason), zap.Error(err))
		if sendErr := conn.Send(wire.Packet{
			"name":          "submission-rejected",
			"submission-id": id,
			"reason":        reason,
		}); sendErr != nil {
			logger.Warn(ctx, "reject reply failed", zap.Error(sendErr))
		}
	}

	sub, err := s.subs.Find(ctx, id)
	if err != nil {
		reject("unknown submission", err)
		return
	}
	limits, err := s.subs.Limits(ctx, id)
	if err != nil {
		reject("limits unavailable", err)
		return
	}

	deadline := time.Now().Add(ackTimeout)
	for {
		judge, err := s.reg.Pick(sub.ProblemCode, sub.LanguageKey)
		if err != nil {
			reject("no eligible judge", err)
			return
		}
		err = judge.Grade(ctx, sub, limits)
		if err == nil {
			break
		}
		// A judge that went away or refused between Pick and Grade is
		// retried on the next candidate until the deadline.
		logger.Warn(ctx, "hand-off failed, retrying",
			zap.String("judge", judge.Name()), zap.Error(err))
		if time.Now().After(deadline) {
			reject("hand-off failed", err)
			return
		}
		time.Sleep(time.Second)
	}

	if err := conn.Send(wire.Packet{
		"name":          "submission-received",
		"submission-id": id,
	}); err != nil {
		logger.Warn(ctx, "receipt reply failed", zap.Error(err))
	}
}

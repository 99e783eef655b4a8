// Package session owns the lifecycle of one authenticated judge
// connection: handshake, packet read loop, ping telemetry and teardown.
package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"go.uber.org/zap"

	"ojbridge/internal/bridge/grading"
	"ojbridge/internal/bridge/model"
	"ojbridge/internal/bridge/registry"
	"ojbridge/internal/bridge/repository"
	"ojbridge/internal/bridge/wire"
	appErr "ojbridge/pkg/errors"
	"ojbridge/pkg/utils/logger"
)

const (
	// HandshakeTimeout bounds the wait for the first packet.
	HandshakeTimeout = 15 * time.Second

	// PingInterval is how often the bridge pings a judge.
	PingInterval = 10 * time.Second

	// readTimeout covers several missed pings before the connection is
	// declared dead.
	readTimeout = 3 * PingInterval

	// ackTimeout bounds the wait for a submission acknowledgement.
	ackTimeout = 15 * time.Second
)

// Session is one live judge connection. It implements registry.Judge.
type Session struct {
	conn    *wire.Conn
	name    string
	machine *grading.Machine
	judges  repository.JudgeStore
	reg     *registry.Registry

	mu   sync.Mutex
	caps model.Capabilities
	runs map[int64]*grading.Run
	// acks is keyed by submission id so concurrent hand-offs each get
	// their own acknowledgement, whatever order the judge replies in.
	acks map[int64]chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Handshake authenticates the first packet on conn and returns a
// registered, running session. The connection is closed on any failure.
func Handshake(
	ctx context.Context,
	conn *wire.Conn,
	judges repository.JudgeStore,
	reg *registry.Registry,
	machine *grading.Machine,
) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	p, err := conn.Receive()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if p.Name() != "handshake" {
		conn.Close()
		return nil, appErr.Newf(appErr.ProtocolError,
			"expected handshake packet, got %q", p.Name())
	}

	name := p.Str("id")
	judge, err := judges.Find(ctx, name)
	if err != nil {
		conn.Close()
		if appErr.Is(err, appErr.RecordNotFound) || appErr.Is(err, appErr.JudgeNotFound) {
			return nil, appErr.Newf(appErr.AuthError, "unknown judge %q", name)
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(p.Str("key")), []byte(judge.AuthKey)) != 1 {
		conn.Close()
		return nil, appErr.Newf(appErr.AuthError, "bad authentication key for judge %q", name)
	}

	s := &Session{
		conn:    conn,
		name:    name,
		machine: machine,
		judges:  judges,
		reg:     reg,
		caps:    parseCapabilities(p),
		runs:    make(map[int64]*grading.Run),
		acks:    make(map[int64]chan struct{}),
		done:    make(chan struct{}),
	}

	if err := reg.Register(s); err != nil {
		conn.Close()
		return nil, err
	}
	if err := judges.MarkOnline(ctx, name, conn.RemoteAddr().String(), s.capabilities()); err != nil {
		reg.Unregister(s)
		conn.Close()
		return nil, err
	}
	if err := conn.Send(wire.Packet{"name": "handshake-success"}); err != nil {
		reg.Unregister(s)
		_ = judges.MarkOffline(ctx, name)
		conn.Close()
		return nil, err
	}

	logger.Info(ctx, "judge connected",
		zap.String("judge", name),
		zap.String("addr", conn.RemoteAddr().String()),
		zap.Int("problems", len(s.caps.Problems)))

	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// parseCapabilities decodes the handshake's problems and executors.
// Problems arrive as [[code, mtime], ...]; executors as
// {lang: [[name, [version, ...]], ...]}.
func parseCapabilities(p wire.Packet) model.Capabilities {
	var problems []string
	if raw, ok := p["problems"].([]interface{}); ok {
		problems = parseProblemList(raw)
	}

	runtimes := make(map[string][]model.RuntimeVersion)
	if raw, ok := p["executors"].(map[string]interface{}); ok {
		for lang, entry := range raw {
			list, ok := entry.([]interface{})
			if !ok {
				continue
			}
			var versions []model.RuntimeVersion
			for i, item := range list {
				pair, ok := item.([]interface{})
				if !ok || len(pair) < 2 {
					continue
				}
				name, _ := pair[0].(string)
				var version string
				if parts, ok := pair[1].([]interface{}); ok {
					for _, part := range parts {
						if s, ok := part.(string); ok {
							if version != "" {
								version += "."
							}
							version += s
						}
					}
				} else if s, ok := pair[1].(string); ok {
					version = s
				}
				versions = append(versions, model.RuntimeVersion{
					Language: lang,
					Name:     name,
					Version:  version,
					Priority: i,
				})
			}
			runtimes[lang] = versions
		}
	}
	return model.NewCapabilities(problems, runtimes)
}

func parseProblemList(raw []interface{}) []string {
	problems := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			problems = append(problems, v)
		case []interface{}:
			if len(v) > 0 {
				if code, ok := v[0].(string); ok {
					problems = append(problems, code)
				}
			}
		}
	}
	return problems
}

// Name implements registry.Judge.
func (s *Session) Name() string { return s.name }

// CanGrade implements registry.Judge.
func (s *Session) CanGrade(problem, language string) bool {
	return s.capabilities().CanGrade(problem, language)
}

// Load implements registry.Judge.
func (s *Session) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Grading implements registry.Judge.
func (s *Session) Grading(submissionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[submissionID]
	return ok
}

func (s *Session) capabilities() model.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Grade sends the submission to the judge and blocks until it is
// acknowledged. A wrong or missing acknowledgement fails the hand-off
// and the caller keeps ownership of the submission.
func (s *Session) Grade(ctx context.Context, sub *model.Submission, limits model.Limits) error {
	s.mu.Lock()
	if _, busy := s.runs[sub.ID]; busy {
		s.mu.Unlock()
		return appErr.Newf(appErr.JudgeBusy, "judge %q is already grading submission %d", s.name, sub.ID)
	}
	s.runs[sub.ID] = &grading.Run{Judge: s.name}
	ack := make(chan struct{}, 1)
	s.acks[sub.ID] = ack
	s.mu.Unlock()

	err := s.conn.Send(wire.Packet{
		"name":          "submission-request",
		"submission-id": sub.ID,
		"problem-id":    sub.ProblemCode,
		"language":      sub.LanguageKey,
		"source":        sub.Source,
		"time-limit":    limits.TimeLimit,
		"memory-limit":  limits.MemoryLimit,
		"short-circuit": limits.ShortCircuit,
		"pretests-only": limits.IsPretested,
	})
	if err != nil {
		s.dropRun(sub.ID)
		return err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-timer.C:
		s.dropRun(sub.ID)
		return appErr.Newf(appErr.SessionClosed,
			"judge %q did not acknowledge submission %d", s.name, sub.ID)
	case <-s.done:
		s.dropRun(sub.ID)
		return appErr.Newf(appErr.SessionClosed, "judge %q disconnected", s.name)
	case <-ctx.Done():
		s.dropRun(sub.ID)
		return appErr.Wrapf(ctx.Err(), appErr.SessionClosed, "hand-off cancelled: %v", ctx.Err())
	}
}

// Abort implements registry.Judge. Fire-and-forget; the terminated
// packet confirms the abort.
func (s *Session) Abort(_ context.Context, submissionID int64) error {
	return s.conn.Send(wire.Packet{
		"name":          "terminate-submission",
		"submission-id": submissionID,
	})
}

// Disconnect implements registry.Judge. Closing the connection unblocks
// the read loop, which runs the teardown path.
func (s *Session) Disconnect() {
	s.conn.Close()
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) dropRun(submissionID int64) {
	s.mu.Lock()
	delete(s.runs, submissionID)
	delete(s.acks, submissionID)
	s.mu.Unlock()
}

func (s *Session) run(submissionID int64) *grading.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[submissionID]; ok {
		return r
	}
	// A packet for a run this session never started, e.g. after a
	// bridge restart. Track it so teardown still covers it.
	r := &grading.Run{Judge: s.name}
	s.runs[submissionID] = r
	return r
}

func (s *Session) readLoop() {
	ctx := logger.WithJudge(context.Background(), s.name)
	defer s.teardown(ctx)

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		p, err := s.conn.Receive()
		if err != nil {
			if !wire.IsProtocolError(err) {
				logger.Info(ctx, "judge connection closed", zap.Error(err))
			} else {
				logger.Warn(ctx, "malformed packet, dropping judge", zap.Error(err))
			}
			return
		}
		if err := s.handle(ctx, p); err != nil {
			logger.Error(ctx, "packet handling failed",
				zap.String("packet", p.Name()), zap.Error(err))
		}
	}
}

func (s *Session) handle(ctx context.Context, p wire.Packet) error {
	switch name := p.Name(); name {
	case "submission-acknowledged":
		id := p.SubmissionID()
		s.mu.Lock()
		ack, ok := s.acks[id]
		delete(s.acks, id)
		s.mu.Unlock()
		if !ok {
			logger.Warn(ctx, "unexpected acknowledgement",
				zap.Int64("submission_id", id))
			return nil
		}
		ack <- struct{}{}
		return nil
	case "ping-response":
		s.onPingResponse(ctx, p)
		return nil
	case "supported-problems":
		return s.onSupportedProblems(ctx, p)
	default:
		if !s.machine.Handles(name) {
			logger.Warn(ctx, "unknown packet kind", zap.String("packet", name))
			return nil
		}
		id := p.SubmissionID()
		ctx = logger.WithSubmission(ctx, id)
		err := s.machine.HandlePacket(ctx, s.run(id), p)
		// A failed transition escalates the submission to IE inside the
		// machine, which ends the judge's ownership just like a
		// run-ending packet does.
		if err != nil || isRunEnd(name) {
			s.dropRun(id)
		}
		return err
	}
}

// isRunEnd reports whether the packet kind ends the judge's ownership
// of the submission.
func isRunEnd(name string) bool {
	switch name {
	case "grading-end", "compile-error", "internal-error", "submission-terminated":
		return true
	}
	return false
}

// onPingResponse persists latency and load. Telemetry is best effort:
// the store retries once internally and the update is dropped on
// PersistenceUnavailable.
func (s *Session) onPingResponse(ctx context.Context, p wire.Packet) {
	latency := nowSeconds() - p.Float("when")
	err := s.judges.UpdateTelemetry(ctx, s.name, latency, p.Float("load"))
	if err != nil {
		if appErr.Is(err, appErr.PersistenceUnavailable) {
			logger.Warn(ctx, "telemetry dropped, store unavailable", zap.Error(err))
			return
		}
		logger.Error(ctx, "telemetry update failed", zap.Error(err))
	}
}

// onSupportedProblems refreshes the judge's problem set mid-session.
func (s *Session) onSupportedProblems(ctx context.Context, p wire.Packet) error {
	raw, ok := p["problems"].([]interface{})
	if !ok {
		return appErr.Newf(appErr.BadPayload, "supported-problems packet without problem list")
	}
	problems := parseProblemList(raw)

	s.mu.Lock()
	set := make(map[string]struct{}, len(problems))
	for _, code := range problems {
		set[code] = struct{}{}
	}
	s.caps.Problems = set
	s.mu.Unlock()

	logger.Info(ctx, "problem set refreshed", zap.Int("problems", len(problems)))
	return s.judges.ReplaceProblems(ctx, s.name, problems)
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.conn.Send(wire.Packet{"name": "ping", "when": nowSeconds()})
			if err != nil {
				return
			}
		}
	}
}

// teardown runs exactly once: the registry entry goes away, the judge
// row is marked offline with its capability rows purged, and every
// submission the judge still owned is failed.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.reg.Unregister(s)

		if err := s.judges.MarkOffline(ctx, s.name); err != nil {
			logger.Error(ctx, "judge offline mark failed", zap.Error(err))
		}

		s.mu.Lock()
		orphaned := make([]int64, 0, len(s.runs))
		for id := range s.runs {
			orphaned = append(orphaned, id)
		}
		s.runs = make(map[int64]*grading.Run)
		s.mu.Unlock()

		for _, id := range orphaned {
			if err := s.machine.OnJudgeDisconnect(ctx, id); err != nil {
				logger.Error(ctx, "orphaned submission cleanup failed",
					zap.Int64("submission_id", id), zap.Error(err))
			}
		}

		logger.Info(ctx, "judge disconnected", zap.Int("orphaned", len(orphaned)))
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

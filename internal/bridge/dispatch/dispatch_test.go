package dispatch_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"ojbridge/internal/bridge/dispatch"
	"ojbridge/internal/bridge/event"
	"ojbridge/internal/bridge/model"
	"ojbridge/internal/bridge/wire"
	"ojbridge/internal/common/mq"
	appErr "ojbridge/pkg/errors"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[int64]*model.Submission
}

func newMemSubs(subs ...*model.Submission) *memSubs {
	m := &memSubs{subs: make(map[int64]*model.Submission)}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

func (m *memSubs) Find(_ context.Context, id int64) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, appErr.Newf(appErr.RecordNotFound, "submission %d not found", id)
	}
	copied := *s
	return &copied, nil
}

func (m *memSubs) Update(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *sub
	m.subs[sub.ID] = &copied
	return nil
}

func (m *memSubs) Limits(context.Context, int64) (model.Limits, error) {
	return model.Limits{}, nil
}

func (m *memSubs) get(id int64) *model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id]
}

type memCases struct {
	mu      sync.Mutex
	deleted []int64
}

func (m *memCases) DeleteForSubmission(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memCases) Insert(context.Context, *model.TestCaseResult) error { return nil }
func (m *memCases) ListForSubmission(context.Context, int64) ([]model.TestCaseResult, error) {
	return nil, nil
}

type recordingProducer struct {
	mu       sync.Mutex
	messages []*mq.Message
}

func (p *recordingProducer) Publish(_ context.Context, _ string, m *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
	return nil
}

func (p *recordingProducer) Ping(context.Context) error { return nil }
func (p *recordingProducer) Close() error               { return nil }

func (p *recordingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *recordingProducer) lastEvent(t *testing.T) map[string]interface{} {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		t.Fatal("no messages published")
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(p.messages[len(p.messages)-1].Body, &ev); err != nil {
		t.Fatalf("event decode failed: %v", err)
	}
	return ev
}

// fakeBridge accepts one request connection and answers every
// submission-request with the configured reply packet builder.
func fakeBridge(t *testing.T, reply func(req wire.Packet) wire.Packet) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go func() {
		for {
			raw, err := lis.Accept()
			if err != nil {
				return
			}
			go func() {
				conn := wire.NewConn(raw)
				defer conn.Close()
				for {
					req, err := conn.Receive()
					if err != nil {
						return
					}
					if rep := reply(req); rep != nil {
						if err := conn.Send(rep); err != nil {
							return
						}
					}
				}
			}()
		}
	}()
	return lis.Addr().String()
}

func gradedSubmission(id int64) *model.Submission {
	return &model.Submission{
		ID: id, UserID: 3, ProblemID: 9,
		Status: model.StatusDone, Result: model.ResultWrongAnswer,
		Time: 1.5, Memory: 2048, Points: 40, CasePoints: 40, CaseTotal: 100,
		CurrentTestcase: 12, Batch: true, JudgedOn: "old-judge",
		ProblemCode: "aplusb", ProblemPublic: true, LanguageKey: "CPP17",
	}
}

func TestSubmitJudgeSuccess(t *testing.T) {
	t.Parallel()
	addr := fakeBridge(t, func(req wire.Packet) wire.Packet {
		return wire.Packet{"name": "submission-received", "submission-id": req.SubmissionID()}
	})
	sub := gradedSubmission(1)
	subs := newMemSubs(sub)
	cases := &memCases{}
	producer := &recordingProducer{}
	client := dispatch.NewClient(addr, subs, cases, event.NewPublisher(producer, "bridge-events"))

	if !client.SubmitJudge(context.Background(), sub) {
		t.Fatal("expected successful hand-off")
	}

	got := subs.get(1)
	if got.Status != model.StatusQueued {
		t.Fatalf("expected QU, got %s", got.Status)
	}
	if got.Result != "" || got.Points != 0 || got.Time != 0 || got.Memory != 0 {
		t.Fatalf("volatile fields not reset: %+v", got)
	}
	if got.JudgedOn != "" || got.Batch || got.CurrentTestcase != 0 {
		t.Fatalf("previous run state not reset: %+v", got)
	}
	if len(cases.deleted) != 1 || cases.deleted[0] != 1 {
		t.Fatalf("stale case rows not deleted: %v", cases.deleted)
	}
	if producer.count() != 1 {
		t.Fatalf("expected one feed event, got %d", producer.count())
	}
	ev := producer.lastEvent(t)
	if ev["status"] != string(model.StatusQueued) || ev["language"] != "CPP17" {
		t.Fatalf("unexpected feed payload: %v", ev)
	}
	if _, ok := ev["state"]; ok {
		t.Fatalf("feed payload carries a state key: %v", ev)
	}
}

func TestSubmitJudgeSpeculativePretested(t *testing.T) {
	t.Parallel()
	addr := fakeBridge(t, func(req wire.Packet) wire.Packet {
		return wire.Packet{"name": "submission-received", "submission-id": req.SubmissionID()}
	})
	sub := gradedSubmission(2)
	sub.Contest = &model.ContestSubmission{SubmissionID: 2, RunPretestsOnly: true}
	subs := newMemSubs(sub)
	client := dispatch.NewClient(addr, subs, &memCases{},
		event.NewPublisher(&recordingProducer{}, "bridge-events"))

	if !client.SubmitJudge(context.Background(), sub) {
		t.Fatal("expected successful hand-off")
	}
	if !subs.get(2).IsPretested {
		t.Fatal("contest pretest flag should seed is_pretested")
	}
}

func TestSubmitJudgeRejectedMarksInternalError(t *testing.T) {
	t.Parallel()
	addr := fakeBridge(t, func(req wire.Packet) wire.Packet {
		return wire.Packet{
			"name": "submission-rejected", "submission-id": req.SubmissionID(),
			"reason": "no eligible judge",
		}
	})
	sub := gradedSubmission(3)
	subs := newMemSubs(sub)
	producer := &recordingProducer{}
	client := dispatch.NewClient(addr, subs, &memCases{},
		event.NewPublisher(producer, "bridge-events"))

	if !client.SubmitJudge(context.Background(), sub) {
		t.Fatal("a rejection is still an answered hand-off")
	}
	got := subs.get(3)
	if got.Status != model.StatusInternalError || got.Result != model.ResultInternalError {
		t.Fatalf("expected IE/IE, got %s/%s", got.Status, got.Result)
	}
	if producer.count() != 1 {
		t.Fatalf("expected one feed event, got %d", producer.count())
	}
	if ev := producer.lastEvent(t); ev["status"] != string(model.StatusInternalError) {
		t.Fatalf("unexpected feed payload: %v", ev)
	}
}

func TestSubmitJudgeMismatchedReceiptMarksInternalError(t *testing.T) {
	t.Parallel()
	addr := fakeBridge(t, func(req wire.Packet) wire.Packet {
		return wire.Packet{"name": "submission-received", "submission-id": req.SubmissionID() + 1}
	})
	sub := gradedSubmission(4)
	subs := newMemSubs(sub)
	client := dispatch.NewClient(addr, subs, &memCases{},
		event.NewPublisher(&recordingProducer{}, "bridge-events"))

	if !client.SubmitJudge(context.Background(), sub) {
		t.Fatal("a mismatched receipt is still an answered hand-off")
	}
	if subs.get(4).Status != model.StatusInternalError {
		t.Fatalf("expected IE, got %s", subs.get(4).Status)
	}
}

func TestSubmitJudgeBridgeDown(t *testing.T) {
	t.Parallel()
	// Grab a port and close it so the dial is refused.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	sub := gradedSubmission(5)
	subs := newMemSubs(sub)
	client := dispatch.NewClient(addr, subs, &memCases{},
		event.NewPublisher(&recordingProducer{}, "bridge-events")).
		WithTimeout(time.Second)

	if client.SubmitJudge(context.Background(), sub) {
		t.Fatal("unreachable bridge must report failure")
	}
	if subs.get(5).Status != model.StatusInternalError {
		t.Fatalf("expected IE, got %s", subs.get(5).Status)
	}
}

func TestAbortSubmissionFireAndForget(t *testing.T) {
	t.Parallel()
	received := make(chan wire.Packet, 1)
	addr := fakeBridge(t, func(req wire.Packet) wire.Packet {
		received <- req
		return nil
	})
	client := dispatch.NewClient(addr, newMemSubs(), &memCases{},
		event.NewPublisher(&recordingProducer{}, "bridge-events"))

	client.AbortSubmission(context.Background(), 42)

	select {
	case p := <-received:
		if p.Name() != "terminate-submission" || p.SubmissionID() != 42 {
			t.Fatalf("unexpected packet: %v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never saw the terminate packet")
	}
}

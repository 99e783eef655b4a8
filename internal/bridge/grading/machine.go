package grading

import (
	"context"

	"go.uber.org/zap"

	"ojbridge/internal/bridge/event"
	"ojbridge/internal/bridge/model"
	"ojbridge/internal/bridge/repository"
	"ojbridge/internal/bridge/wire"
	appErr "ojbridge/pkg/errors"
	"ojbridge/pkg/utils/logger"
)

// Run is the in-progress grading context for the one submission a
// session is grading. The batch position lives here, not on the
// session, and travels with every test-case packet.
type Run struct {
	// Judge is the name of the judge grading the submission.
	Judge string

	// BatchID numbers batches within the run, starting at 1.
	BatchID int

	// InBatch is set between batch-begin and batch-end.
	InBatch bool
}

// Machine drives submission state from inbound judge packets. One
// instance is shared by all sessions; the submission row is the unit
// of isolation and each submission receives packets from exactly one
// judge.
type Machine struct {
	subs     repository.SubmissionStore
	cases    repository.CaseStore
	contests repository.ContestStore
	hooks    repository.Hooks
	pub      *event.Publisher
}

// NewMachine wires the state machine to its collaborators.
func NewMachine(
	subs repository.SubmissionStore,
	cases repository.CaseStore,
	contests repository.ContestStore,
	hooks repository.Hooks,
	pub *event.Publisher,
) *Machine {
	return &Machine{
		subs:     subs,
		cases:    cases,
		contests: contests,
		hooks:    hooks,
		pub:      pub,
	}
}

type handler func(m *Machine, ctx context.Context, run *Run, sub *model.Submission, p wire.Packet) error

// transitions keys every packet kind the machine consumes to its arm.
var transitions = map[string]handler{
	"submission-processing": (*Machine).onProcessing,
	"grading-begin":         (*Machine).onGradingBegin,
	"batch-begin":           (*Machine).onBatchBegin,
	"batch-end":             (*Machine).onBatchEnd,
	"test-case":             (*Machine).onTestCase,
	"grading-end":           (*Machine).onGradingEnd,
	"compile-error":         (*Machine).onCompileError,
	"compile-message":       (*Machine).onCompileMessage,
	"internal-error":        (*Machine).onInternalError,
	"submission-terminated": (*Machine).onTerminated,
}

// Handles reports whether the packet kind drives a grading transition.
func (m *Machine) Handles(name string) bool {
	_, ok := transitions[name]
	return ok
}

// HandlePacket loads the submission the packet refers to and applies
// the transition. A packet for a submission no longer tracked is logged
// and dropped: the coordinator may have expired or reassigned it.
func (m *Machine) HandlePacket(ctx context.Context, run *Run, p wire.Packet) error {
	h, ok := transitions[p.Name()]
	if !ok {
		return appErr.Newf(appErr.UnknownPacket, "unknown packet kind %q", p.Name())
	}

	sub, err := m.subs.Find(ctx, p.SubmissionID())
	if err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			logger.Warn(ctx, "packet for unknown submission",
				zap.String("packet", p.Name()),
				zap.Int64("submission_id", p.SubmissionID()))
			return nil
		}
		return err
	}

	// A terminal submission accepts nothing further; a rejudge goes
	// back through dispatch, which resets the status first.
	if sub.Status.Terminal() {
		logger.Warn(ctx, "packet for terminal submission",
			zap.String("packet", p.Name()),
			zap.Int64("submission_id", sub.ID),
			zap.String("status", string(sub.Status)))
		return nil
	}

	if err := h(m, ctx, run, sub, p); err != nil {
		// The row may now disagree with what the judge reported, and
		// the run is about to be torn down. Leaving the submission in a
		// non-terminal status would strand it, so force IE.
		m.escalate(ctx, sub, p.Name(), err)
		return err
	}
	return nil
}

// escalate fails a submission whose transition could not be persisted.
func (m *Machine) escalate(ctx context.Context, sub *model.Submission, packet string, cause error) {
	logger.Error(ctx, "grading transition failed, submission failed",
		zap.Error(cause),
		zap.String("packet", packet),
		zap.Int64("submission_id", sub.ID))
	sub.Status = model.StatusInternalError
	sub.Result = model.ResultInternalError
	if err := m.subs.Update(ctx, sub); err != nil {
		logger.Error(ctx, "escalation status update failed", zap.Error(err),
			zap.Int64("submission_id", sub.ID))
		return
	}
	m.postSubmission(ctx, sub.ID, event.Event{"type": "internal-error"})
	m.postFeed(ctx, sub, "internal-error")
}

// OnJudgeDisconnect forces the submission to InternalError when its
// judge drops mid-grade. Driven by session teardown, not by a packet;
// a submission must never sit in Processing/Grading with no judge
// attached.
func (m *Machine) OnJudgeDisconnect(ctx context.Context, submissionID int64) error {
	sub, err := m.subs.Find(ctx, submissionID)
	if err != nil {
		if appErr.Is(err, appErr.RecordNotFound) {
			return nil
		}
		return err
	}
	if sub.Status.Terminal() {
		return nil
	}
	sub.Status = model.StatusInternalError
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	logger.Warn(ctx, "judge disconnected mid-grade, submission failed",
		zap.Int64("submission_id", sub.ID))
	return nil
}

func (m *Machine) onProcessing(ctx context.Context, run *Run, sub *model.Submission, _ wire.Packet) error {
	sub.Status = model.StatusProcessing
	sub.JudgedOn = run.Judge
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	m.postSubmission(ctx, sub.ID, event.Event{"type": "processing"})
	m.postFeed(ctx, sub, "processing")
	return nil
}

func (m *Machine) onGradingBegin(ctx context.Context, run *Run, sub *model.Submission, p wire.Packet) error {
	sub.Status = model.StatusGrading
	// The judge's answer on pretests is authoritative; it overrides
	// the speculative value set at dispatch time.
	sub.IsPretested = p.Bool("pretested")
	sub.CurrentTestcase = 1
	sub.Batch = false
	run.BatchID = 0
	run.InBatch = false
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	// Restart is idempotent: a second run never double-counts rows
	// left by the first.
	if err := m.cases.DeleteForSubmission(ctx, sub.ID); err != nil {
		return err
	}
	m.postSubmission(ctx, sub.ID, event.Event{"type": "grading-begin"})
	m.postFeed(ctx, sub, "grading-begin")
	return nil
}

func (m *Machine) onBatchBegin(ctx context.Context, run *Run, sub *model.Submission, _ wire.Packet) error {
	run.BatchID++
	run.InBatch = true
	if !sub.Batch {
		sub.Batch = true
		return m.subs.Update(ctx, sub)
	}
	return nil
}

func (m *Machine) onBatchEnd(_ context.Context, run *Run, _ *model.Submission, _ wire.Packet) error {
	run.InBatch = false
	return nil
}

func (m *Machine) onTestCase(ctx context.Context, run *Run, sub *model.Submission, p wire.Packet) error {
	tc := &model.TestCaseResult{
		SubmissionID: sub.ID,
		Case:         int(p.Int("position")),
		Status:       model.DecodeCaseStatus(int(p.Int("status"))),
		Time:         p.Float("time"),
		Memory:       p.Int("memory"),
		Points:       p.Float("points"),
		Total:        p.Float("total-points"),
		Feedback:     p.Str("feedback"),
		Output:       p.Str("output"),
	}
	if run.InBatch {
		tc.Batch = run.BatchID
	}

	sub.CurrentTestcase = tc.Case + 1
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	if err := m.cases.Insert(ctx, tc); err != nil {
		return err
	}

	delivered, err := m.pub.PostTestCase(ctx, sub.ID, event.Event{
		"type":   "test-case",
		"id":     tc.Case,
		"status": string(tc.Status),
		"time":   event.FormatSeconds(tc.Time),
		"memory": tc.Memory,
		"points": tc.Points,
		"total":  tc.Total,
		"output": tc.Output,
	})
	if err != nil {
		logger.Warn(ctx, "test-case publish failed", zap.Error(err),
			zap.Int64("submission_id", sub.ID))
		return nil
	}
	if delivered {
		m.postFeed(ctx, sub, "test-case")
	}
	return nil
}

func (m *Machine) onGradingEnd(ctx context.Context, run *Run, sub *model.Submission, _ wire.Packet) error {
	cases, err := m.cases.ListForSubmission(ctx, sub.ID)
	if err != nil {
		return err
	}
	tally := Aggregate(cases)

	sub.CasePoints = tally.Points
	sub.CaseTotal = tally.Total
	sub.Points = FinalPoints(tally.Points, tally.Total, sub.ProblemPoints, sub.ProblemPartial)
	sub.Time = tally.Time
	sub.Memory = tally.Memory
	sub.Result = tally.Result
	sub.Status = model.StatusDone
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}

	if err := m.hooks.RecalculateUserPoints(ctx, sub.UserID); err != nil {
		logger.Error(ctx, "user points recalculation failed", zap.Error(err),
			zap.Int64("user_id", sub.UserID))
	}

	if sub.Contest != nil {
		contest := sub.Contest
		contest.Points = FinalPoints(tally.Points, tally.Total,
			contest.ProblemPoints, contest.ProblemPartial)
		if err := m.contests.Update(ctx, contest); err != nil {
			logger.Error(ctx, "contest points update failed", zap.Error(err),
				zap.Int64("submission_id", sub.ID))
		} else if err := m.hooks.RecalculateParticipation(ctx, contest.ParticipationID); err != nil {
			logger.Error(ctx, "participation recalculation failed", zap.Error(err),
				zap.Int64("participation_id", contest.ParticipationID))
		}
	}

	if err := m.hooks.FinishedSubmission(ctx, sub.ID); err != nil {
		logger.Warn(ctx, "finished-submission invalidation failed", zap.Error(err),
			zap.Int64("submission_id", sub.ID))
	}

	m.pub.Limiter().Forget(sub.ID)
	m.postSubmission(ctx, sub.ID, event.Event{
		"type":   "grading-end",
		"time":   tally.Time,
		"memory": tally.Memory,
		"points": tally.Points,
		"total":  sub.ProblemPoints,
		"result": string(sub.Result),
	})
	if sub.Contest != nil {
		m.postContest(ctx, sub.Contest.ContestID)
	}
	m.postFeedDone(ctx, sub)
	return nil
}

func (m *Machine) onCompileError(ctx context.Context, _ *Run, sub *model.Submission, p wire.Packet) error {
	sub.Status = model.StatusCompileError
	sub.Result = model.ResultCompileError
	sub.Error = p.Str("log")
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	m.postSubmission(ctx, sub.ID, event.Event{
		"type": "compile-error",
		"log":  sub.Error,
	})
	m.postFeed(ctx, sub, "compile-error")
	return nil
}

func (m *Machine) onCompileMessage(ctx context.Context, _ *Run, sub *model.Submission, p wire.Packet) error {
	sub.Error = p.Str("log")
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	// A lightweight notice only; no feed update for compiler chatter.
	m.postSubmission(ctx, sub.ID, event.Event{"type": "compile-message"})
	return nil
}

func (m *Machine) onInternalError(ctx context.Context, _ *Run, sub *model.Submission, p wire.Packet) error {
	sub.Status = model.StatusInternalError
	sub.Result = model.ResultInternalError
	sub.Error = p.Str("message")
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	m.postSubmission(ctx, sub.ID, event.Event{"type": "internal-error"})
	m.postFeed(ctx, sub, "internal-error")
	return nil
}

func (m *Machine) onTerminated(ctx context.Context, _ *Run, sub *model.Submission, _ wire.Packet) error {
	sub.Status = model.StatusAborted
	sub.Result = model.ResultAborted
	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}
	m.postSubmission(ctx, sub.ID, event.Event{"type": "aborted-submission"})
	m.postFeed(ctx, sub, "terminated")
	return nil
}

func (m *Machine) postSubmission(ctx context.Context, submissionID int64, ev event.Event) {
	if err := m.pub.PostSubmission(ctx, submissionID, ev); err != nil {
		logger.Warn(ctx, "submission event publish failed", zap.Error(err),
			zap.Int64("submission_id", submissionID))
	}
}

// postFeed emits the feed-level update for public problems.
func (m *Machine) postFeed(ctx context.Context, sub *model.Submission, state string) {
	if !sub.ProblemPublic {
		return
	}
	err := m.pub.PostFeed(ctx, event.Event{
		"type":    "update-submission",
		"id":      sub.ID,
		"state":   state,
		"contest": sub.ContestKey(),
		"user":    sub.UserID,
		"problem": sub.ProblemID,
	})
	if err != nil {
		logger.Warn(ctx, "feed publish failed", zap.Error(err),
			zap.Int64("submission_id", sub.ID))
	}
}

func (m *Machine) postFeedDone(ctx context.Context, sub *model.Submission) {
	if !sub.ProblemPublic {
		return
	}
	err := m.pub.PostFeed(ctx, event.Event{
		"type":    "done-submission",
		"id":      sub.ID,
		"contest": sub.ContestKey(),
		"user":    sub.UserID,
		"problem": sub.ProblemID,
	})
	if err != nil {
		logger.Warn(ctx, "feed publish failed", zap.Error(err),
			zap.Int64("submission_id", sub.ID))
	}
}

func (m *Machine) postContest(ctx context.Context, contestID int64) {
	if err := m.pub.PostContest(ctx, contestID, event.Event{"type": "update"}); err != nil {
		logger.Warn(ctx, "contest event publish failed", zap.Error(err),
			zap.Int64("contest_id", contestID))
	}
}

// Package dispatch is the web-side client of the bridge: it hands
// fresh submissions over for grading and requests aborts.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ojbridge/internal/bridge/event"
	"ojbridge/internal/bridge/model"
	"ojbridge/internal/bridge/repository"
	"ojbridge/internal/bridge/wire"
	"ojbridge/pkg/utils/logger"
)

// DefaultTimeout bounds one dial plus one request/reply exchange.
const DefaultTimeout = 15 * time.Second

// Client submits and aborts submissions over the bridge's request
// listener. Every call opens a fresh connection; dispatch traffic is
// rare enough that pooling buys nothing.
type Client struct {
	addr    string
	timeout time.Duration
	subs    repository.SubmissionStore
	cases   repository.CaseStore
	pub     *event.Publisher
}

func NewClient(
	addr string,
	subs repository.SubmissionStore,
	cases repository.CaseStore,
	pub *event.Publisher,
) *Client {
	return &Client{
		addr:    addr,
		timeout: DefaultTimeout,
		subs:    subs,
		cases:   cases,
		pub:     pub,
	}
}

// WithTimeout overrides the exchange timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// SubmitJudge resets the submission's volatile grading fields, hands it
// to the bridge and blocks for the receipt. The boolean reports whether
// the bridge answered at all; a refusal still returns true with the
// submission recorded as IE, while false means the bridge was
// unreachable and the caller may retry another address.
func (c *Client) SubmitJudge(ctx context.Context, sub *model.Submission) bool {
	requestID := uuid.NewString()
	ctx = logger.WithRequest(logger.WithSubmission(ctx, sub.ID), requestID)

	// A rejudge reuses the row; everything the previous run wrote is
	// reset before the judge sees it.
	sub.Time = 0
	sub.Memory = 0
	sub.Points = 0
	sub.CasePoints = 0
	sub.CaseTotal = 0
	sub.Result = ""
	sub.Error = ""
	sub.CurrentTestcase = 0
	sub.Batch = false
	sub.JudgedOn = ""

	// Speculative: grading-begin overrides with the judge's answer.
	sub.IsPretested = sub.Contest != nil && sub.Contest.RunPretestsOnly

	if err := c.subs.Update(ctx, sub); err != nil {
		logger.Error(ctx, "submission reset failed", zap.Error(err))
		return false
	}
	if err := c.cases.DeleteForSubmission(ctx, sub.ID); err != nil {
		logger.Error(ctx, "stale case cleanup failed", zap.Error(err))
		return false
	}

	reply, err := c.exchange(wire.Packet{
		"name":          "submission-request",
		"submission-id": sub.ID,
		"request-id":    requestID,
	})
	if err != nil {
		logger.Error(ctx, "bridge unreachable", zap.Error(err))
		return c.fail(ctx, sub)
	}

	// Any reply at all means the bridge answered; from here on the
	// submission's fate is recorded rather than retried.
	if reply.Name() == "submission-received" && reply.SubmissionID() == sub.ID {
		sub.Status = model.StatusQueued
		if err := c.subs.Update(ctx, sub); err != nil {
			logger.Error(ctx, "queued status update failed", zap.Error(err))
		}
	} else {
		logger.Warn(ctx, "bridge refused submission",
			zap.String("reply", reply.Name()),
			zap.String("reason", reply.Str("reason")))
		sub.Status = model.StatusInternalError
		sub.Result = model.ResultInternalError
		if err := c.subs.Update(ctx, sub); err != nil {
			logger.Error(ctx, "failure status update failed", zap.Error(err))
		}
	}

	if sub.ProblemPublic {
		err := c.pub.PostFeed(ctx, event.Event{
			"type":     "update-submission",
			"id":       sub.ID,
			"status":   string(sub.Status),
			"language": sub.LanguageKey,
			"contest":  sub.ContestKey(),
			"user":     sub.UserID,
			"problem":  sub.ProblemID,
		})
		if err != nil {
			logger.Warn(ctx, "feed publish failed", zap.Error(err))
		}
	}
	return true
}

// AbortSubmission asks the bridge to stop grading. Fire and forget:
// the submission-terminated packet is the only confirmation.
func (c *Client) AbortSubmission(ctx context.Context, submissionID int64) {
	conn, err := wire.Dial(c.addr, c.timeout)
	if err != nil {
		logger.Warn(ctx, "bridge unreachable for abort", zap.Error(err),
			zap.Int64("submission_id", submissionID))
		return
	}
	defer conn.Close()
	if err := conn.Send(wire.Packet{
		"name":          "terminate-submission",
		"submission-id": submissionID,
	}); err != nil {
		logger.Warn(ctx, "abort send failed", zap.Error(err),
			zap.Int64("submission_id", submissionID))
	}
}

func (c *Client) exchange(p wire.Packet) (wire.Packet, error) {
	conn, err := wire.Dial(c.addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	return conn.Request(p)
}

func (c *Client) fail(ctx context.Context, sub *model.Submission) bool {
	sub.Status = model.StatusInternalError
	sub.Result = model.ResultInternalError
	if err := c.subs.Update(ctx, sub); err != nil {
		logger.Error(ctx, "failure status update failed", zap.Error(err))
	}
	return false
}

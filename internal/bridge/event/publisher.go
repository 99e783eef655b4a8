package event

import (
	"context"
	"encoding/json"
	"fmt"

	"ojbridge/internal/common/mq"
	appErr "ojbridge/pkg/errors"
)

// Channel names: one per submission, one global feed carrying only
// public-problem updates.
const (
	FeedChannel          = "submissions"
	submissionChannelFmt = "sub_%d"
)

// Event is one state-change notification payload.
type Event map[string]interface{}

// Publisher emits state-change notifications through the message
// producer. Delivery is at-most-once; the bridge never waits for a
// consumer.
type Publisher struct {
	producer mq.Producer
	topic    string
	limiter  *RateLimiter
}

// NewPublisher creates a publisher over the given producer and topic.
func NewPublisher(producer mq.Producer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		limiter:  NewRateLimiter(UpdateRateLimit, UpdateRateWindow),
	}
}

// Limiter exposes the test-case rate limiter.
func (p *Publisher) Limiter() *RateLimiter {
	return p.limiter
}

// PostSubmission emits an event on the per-submission channel.
func (p *Publisher) PostSubmission(ctx context.Context, submissionID int64, ev Event) error {
	return p.post(ctx, SubmissionChannel(submissionID), ev)
}

// PostTestCase emits a test-case event on the per-submission channel,
// subject to rate limiting. Returns (delivered, error); a dropped
// event is not an error.
func (p *Publisher) PostTestCase(ctx context.Context, submissionID int64, ev Event) (bool, error) {
	if !p.limiter.Allow(submissionID) {
		return false, nil
	}
	if err := p.post(ctx, SubmissionChannel(submissionID), ev); err != nil {
		return false, err
	}
	return true, nil
}

// PostFeed emits an event on the global feed channel. Callers gate this
// on the problem being public.
func (p *Publisher) PostFeed(ctx context.Context, ev Event) error {
	return p.post(ctx, FeedChannel, ev)
}

// PostContest emits an event on a contest channel.
func (p *Publisher) PostContest(ctx context.Context, contestID int64, ev Event) error {
	return p.post(ctx, fmt.Sprintf("contest_%d", contestID), ev)
}

func (p *Publisher) post(ctx context.Context, channel string, ev Event) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return appErr.Wrap(err, appErr.PublishFailed)
	}
	message := mq.NewMessage(payload)
	message.ID = channel
	message.SetHeader("channel", channel)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish on %s failed", channel)
	}
	return nil
}

// SubmissionChannel names the per-submission channel.
func SubmissionChannel(submissionID int64) string {
	return fmt.Sprintf(submissionChannelFmt, submissionID)
}

// FormatSeconds renders a duration in seconds with exactly 3 decimal
// digits, the fixed wire representation for test-case times.
func FormatSeconds(t float64) string {
	return fmt.Sprintf("%.3f", t)
}

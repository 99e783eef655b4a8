package repository

import (
	"context"

	"ojbridge/internal/bridge/model"
)

// SubmissionStore reads and writes the submission row the state machine
// mutates.
type SubmissionStore interface {
	// Find loads a submission with its denormalized problem/language
	// fields and contest row. Returns a RecordNotFound error when the
	// id is no longer tracked.
	Find(ctx context.Context, id int64) (*model.Submission, error)

	// Update persists the fields the grading path mutates.
	Update(ctx context.Context, sub *model.Submission) error

	// Limits resolves the grading limits for the submission's
	// (problem, language) pair; the language override wins.
	Limits(ctx context.Context, id int64) (model.Limits, error)
}

// CaseStore owns the per-test-case rows for a submission run.
type CaseStore interface {
	// DeleteForSubmission drops all rows of a previous run.
	DeleteForSubmission(ctx context.Context, submissionID int64) error

	// Insert stores one immutable case outcome.
	Insert(ctx context.Context, tc *model.TestCaseResult) error

	// ListForSubmission returns all rows of the current run.
	ListForSubmission(ctx context.Context, submissionID int64) ([]model.TestCaseResult, error)
}

// JudgeStore owns the judge identity rows and their capability records.
type JudgeStore interface {
	// Find loads a judge by name; RecordNotFound when unknown.
	Find(ctx context.Context, name string) (*model.Judge, error)

	// MarkOnline flags the judge online, records connect time and
	// source address, and replaces its capability snapshot.
	MarkOnline(ctx context.Context, name, ip string, caps model.Capabilities) error

	// MarkOffline clears the online flag and purges the judge's
	// runtime-version rows in one call; no capability row may
	// survive a dropped connection.
	MarkOffline(ctx context.Context, name string) error

	// UpdateTelemetry persists ping/load. Best-effort: implementations
	// retry once over a fresh connection, then report
	// PersistenceUnavailable for the caller to drop.
	UpdateTelemetry(ctx context.Context, name string, ping, load float64) error

	// ReplaceProblems refreshes the judge's declared problem set.
	ReplaceProblems(ctx context.Context, name string, problems []string) error
}

// ContestStore reads and writes the contest-scoped score row.
type ContestStore interface {
	// FindForSubmission returns nil without error when the submission
	// is not part of a contest run.
	FindForSubmission(ctx context.Context, submissionID int64) (*model.ContestSubmission, error)

	Update(ctx context.Context, cs *model.ContestSubmission) error
}

// Hooks are the external collaborators triggered when grading ends.
type Hooks interface {
	// RecalculateUserPoints recomputes the submitting user's total.
	RecalculateUserPoints(ctx context.Context, userID int64) error

	// RecalculateParticipation recomputes the participant's aggregate
	// score and cumulative time.
	RecalculateParticipation(ctx context.Context, participationID int64) error

	// FinishedSubmission invalidates cached state for a submission
	// that reached a terminal status.
	FinishedSubmission(ctx context.Context, submissionID int64) error
}

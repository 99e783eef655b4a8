package repository

import (
	"context"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/bridge/model"
	appErr "ojbridge/pkg/errors"
)

var _ SubmissionStore = (*SubmissionsModel)(nil)

// SubmissionsModel implements SubmissionStore over MySQL.
type SubmissionsModel struct {
	conn sqlx.SqlConn
}

// NewSubmissionsModel returns a model for the submissions table.
func NewSubmissionsModel(conn sqlx.SqlConn) *SubmissionsModel {
	return &SubmissionsModel{conn: conn}
}

const submissionColumns = `
	s.id, s.problem_id, s.language_id, s.user_id, s.source,
	s.status, IFNULL(s.result, '') AS result,
	IFNULL(s.time, 0) AS time, IFNULL(s.memory, 0) AS memory,
	IFNULL(s.points, 0) AS points, IFNULL(s.case_points, 0) AS case_points,
	IFNULL(s.case_total, 0) AS case_total, s.current_testcase,
	s.is_pretested, s.batch, IFNULL(s.error, '') AS error,
	IFNULL(s.judged_on, '') AS judged_on,
	p.code AS problem_code, p.points AS problem_points,
	p.partial AS problem_partial, p.is_public AS problem_public,
	l.lang_key AS language_key`

func (m *SubmissionsModel) Find(ctx context.Context, id int64) (*model.Submission, error) {
	query := `SELECT` + submissionColumns + `
	FROM submissions s
	JOIN problems p ON p.id = s.problem_id
	JOIN languages l ON l.id = s.language_id
	WHERE s.id = ?`

	var sub model.Submission
	err := m.conn.QueryRowCtx(ctx, &sub, query, id)
	switch err {
	case nil:
	case sqlx.ErrNotFound:
		return nil, appErr.Newf(appErr.RecordNotFound, "submission %d not found", id)
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}

	contest, err := m.findContest(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Contest = contest
	return &sub, nil
}

func (m *SubmissionsModel) findContest(ctx context.Context, id int64) (*model.ContestSubmission, error) {
	query := `SELECT cs.submission_id, c.id AS contest_id, c.contest_key,
		cs.participation_id, IFNULL(cs.points, 0) AS points,
		cp.points AS problem_points, cp.partial AS problem_partial,
		c.run_pretests_only
	FROM contest_submissions cs
	JOIN contest_problems cp ON cp.id = cs.contest_problem_id
	JOIN contests c ON c.id = cp.contest_id
	WHERE cs.submission_id = ?`

	var cs model.ContestSubmission
	err := m.conn.QueryRowCtx(ctx, &cs, query, id)
	switch err {
	case nil:
		return &cs, nil
	case sqlx.ErrNotFound:
		return nil, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

func (m *SubmissionsModel) Update(ctx context.Context, sub *model.Submission) error {
	query := `UPDATE submissions
	SET status = ?, result = NULLIF(?, ''), time = ?, memory = ?,
	    points = ?, case_points = ?, case_total = ?, current_testcase = ?,
	    is_pretested = ?, batch = ?, error = NULLIF(?, ''),
	    judged_on = NULLIF(?, '')
	WHERE id = ?`

	update := func() error {
		_, err := m.conn.ExecCtx(ctx, query,
			string(sub.Status), string(sub.Result), sub.Time, sub.Memory,
			sub.Points, sub.CasePoints, sub.CaseTotal, sub.CurrentTestcase,
			sub.IsPretested, sub.Batch, sub.Error, sub.JudgedOn, sub.ID)
		return err
	}
	// Grading connections live for hours; a write can land on a
	// connection the server already dropped. Probe and retry once
	// before giving up.
	if err := update(); err != nil {
		ensureConn(ctx, m.conn)
		if err := update(); err != nil {
			return appErr.Wrapf(err, appErr.PersistenceUnavailable, "update submission %d failed", sub.ID)
		}
	}
	return nil
}

func (m *SubmissionsModel) Limits(ctx context.Context, id int64) (model.Limits, error) {
	// Packet handlers can run hours into a judge connection; probe the
	// pool so a stale server-side connection is replaced first.
	ensureConn(ctx, m.conn)

	type row struct {
		ProblemID    int64   `db:"problem_id"`
		LanguageID   int64   `db:"language_id"`
		TimeLimit    float64 `db:"time_limit"`
		MemoryLimit  int64   `db:"memory_limit"`
		ShortCircuit bool    `db:"short_circuit"`
		IsPretested  bool    `db:"is_pretested"`
	}
	var base row
	err := m.conn.QueryRowCtx(ctx, &base, `
	SELECT s.problem_id, s.language_id, p.time_limit, p.memory_limit,
	       p.short_circuit, s.is_pretested
	FROM submissions s
	JOIN problems p ON p.id = s.problem_id
	WHERE s.id = ?`, id)
	switch err {
	case nil:
	case sqlx.ErrNotFound:
		return model.Limits{}, appErr.Newf(appErr.RecordNotFound, "submission %d not found", id)
	default:
		return model.Limits{}, appErr.Wrap(err, appErr.DatabaseError)
	}

	limits := model.Limits{
		TimeLimit:    base.TimeLimit,
		MemoryLimit:  base.MemoryLimit,
		ShortCircuit: base.ShortCircuit,
		IsPretested:  base.IsPretested,
	}

	type override struct {
		TimeLimit   float64 `db:"time_limit"`
		MemoryLimit int64   `db:"memory_limit"`
	}
	var o override
	err = m.conn.QueryRowCtx(ctx, &o, `
	SELECT time_limit, memory_limit FROM language_limits
	WHERE problem_id = ? AND language_id = ?`, base.ProblemID, base.LanguageID)
	switch err {
	case nil:
		limits.TimeLimit = o.TimeLimit
		limits.MemoryLimit = o.MemoryLimit
	case sqlx.ErrNotFound:
		// No language-specific override; the problem default stands.
	default:
		return model.Limits{}, appErr.Wrap(err, appErr.DatabaseError)
	}
	return limits, nil
}

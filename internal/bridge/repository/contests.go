package repository

import (
	"context"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/bridge/model"
	appErr "ojbridge/pkg/errors"
)

var _ ContestStore = (*ContestsModel)(nil)

// ContestsModel implements ContestStore over MySQL.
type ContestsModel struct {
	conn sqlx.SqlConn
}

// NewContestsModel returns a model for the contest_submissions table.
func NewContestsModel(conn sqlx.SqlConn) *ContestsModel {
	return &ContestsModel{conn: conn}
}

func (m *ContestsModel) FindForSubmission(ctx context.Context, submissionID int64) (*model.ContestSubmission, error) {
	var cs model.ContestSubmission
	err := m.conn.QueryRowCtx(ctx, &cs, `
	SELECT cs.submission_id, c.id AS contest_id, c.contest_key,
	       cs.participation_id, IFNULL(cs.points, 0) AS points,
	       cp.points AS problem_points, cp.partial AS problem_partial,
	       c.run_pretests_only
	FROM contest_submissions cs
	JOIN contest_problems cp ON cp.id = cs.contest_problem_id
	JOIN contests c ON c.id = cp.contest_id
	WHERE cs.submission_id = ?`, submissionID)
	switch err {
	case nil:
		return &cs, nil
	case sqlx.ErrNotFound:
		return nil, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

func (m *ContestsModel) Update(ctx context.Context, cs *model.ContestSubmission) error {
	_, err := m.conn.ExecCtx(ctx,
		`UPDATE contest_submissions SET points = ? WHERE submission_id = ?`,
		cs.Points, cs.SubmissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError,
			"update contest submission %d failed", cs.SubmissionID)
	}
	return nil
}

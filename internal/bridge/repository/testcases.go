package repository

import (
	"context"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/bridge/model"
	appErr "ojbridge/pkg/errors"
)

var _ CaseStore = (*TestCasesModel)(nil)

// TestCasesModel implements CaseStore over MySQL.
type TestCasesModel struct {
	conn sqlx.SqlConn
}

// NewTestCasesModel returns a model for the submission_testcases table.
func NewTestCasesModel(conn sqlx.SqlConn) *TestCasesModel {
	return &TestCasesModel{conn: conn}
}

func (m *TestCasesModel) DeleteForSubmission(ctx context.Context, submissionID int64) error {
	del := func() error {
		_, err := m.conn.ExecCtx(ctx,
			`DELETE FROM submission_testcases WHERE submission_id = ?`, submissionID)
		return err
	}
	if err := del(); err != nil {
		ensureConn(ctx, m.conn)
		if err := del(); err != nil {
			return appErr.Wrapf(err, appErr.PersistenceUnavailable,
				"delete test cases for submission %d failed", submissionID)
		}
	}
	return nil
}

func (m *TestCasesModel) Insert(ctx context.Context, tc *model.TestCaseResult) error {
	insert := func() error {
		_, err := m.conn.ExecCtx(ctx, `
		INSERT INTO submission_testcases
			(submission_id, num, status, time, memory, points, total, batch, feedback, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?)`,
			tc.SubmissionID, tc.Case, string(tc.Status), tc.Time, tc.Memory,
			tc.Points, tc.Total, tc.Batch, tc.Feedback, tc.Output)
		return err
	}
	if err := insert(); err != nil {
		ensureConn(ctx, m.conn)
		if err := insert(); err != nil {
			return appErr.Wrapf(err, appErr.PersistenceUnavailable,
				"insert test case %d for submission %d failed", tc.Case, tc.SubmissionID)
		}
	}
	return nil
}

func (m *TestCasesModel) ListForSubmission(ctx context.Context, submissionID int64) ([]model.TestCaseResult, error) {
	var cases []model.TestCaseResult
	err := m.conn.QueryRowsCtx(ctx, &cases, `
	SELECT submission_id, num AS `+"`case`"+`, status, time, memory, points, total,
	       IFNULL(batch, 0) AS batch, IFNULL(feedback, '') AS feedback,
	       IFNULL(output, '') AS output
	FROM submission_testcases
	WHERE submission_id = ?
	ORDER BY num`, submissionID)
	switch err {
	case nil, sqlx.ErrNotFound:
		return cases, nil
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

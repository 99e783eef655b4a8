package repository

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/common/cache"
	appErr "ojbridge/pkg/errors"
)

const finishedKeyPrefix = "submission:finished:"

var _ Hooks = (*StoreHooks)(nil)

// StoreHooks implements the external recalculation and invalidation
// collaborators over the same store plus the redis cache.
type StoreHooks struct {
	conn  sqlx.SqlConn
	cache cache.Cache
}

// NewStoreHooks creates hooks backed by the store and cache.
func NewStoreHooks(conn sqlx.SqlConn, cacheClient cache.Cache) *StoreHooks {
	return &StoreHooks{conn: conn, cache: cacheClient}
}

// RecalculateUserPoints recomputes a user's total from their best
// scored submission per problem.
func (h *StoreHooks) RecalculateUserPoints(ctx context.Context, userID int64) error {
	_, err := h.conn.ExecCtx(ctx, `
	UPDATE users u SET u.points = (
		SELECT IFNULL(SUM(best.pts), 0) FROM (
			SELECT MAX(s.points) AS pts
			FROM submissions s
			WHERE s.user_id = ? AND s.status = 'D'
			GROUP BY s.problem_id
		) best
	) WHERE u.id = ?`, userID, userID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError,
			"recalculate points for user %d failed", userID)
	}
	return nil
}

// RecalculateParticipation recomputes a contest participant's score and
// cumulative time from their contest submissions.
func (h *StoreHooks) RecalculateParticipation(ctx context.Context, participationID int64) error {
	_, err := h.conn.ExecCtx(ctx, `
	UPDATE contest_participations p SET
		p.score = (
			SELECT IFNULL(SUM(best.pts), 0) FROM (
				SELECT MAX(cs.points) AS pts
				FROM contest_submissions cs
				WHERE cs.participation_id = ?
				GROUP BY cs.contest_problem_id
			) best
		),
		p.cumtime = (
			SELECT IFNULL(SUM(t.secs), 0) FROM (
				SELECT MAX(TIMESTAMPDIFF(SECOND, p2.start_time, s.submitted_at)) AS secs
				FROM contest_submissions cs
				JOIN submissions s ON s.id = cs.submission_id
				JOIN contest_participations p2 ON p2.id = cs.participation_id
				WHERE cs.participation_id = ? AND cs.points > 0
				GROUP BY cs.contest_problem_id
			) t
		)
	WHERE p.id = ?`, participationID, participationID, participationID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError,
			"recalculate participation %d failed", participationID)
	}
	return nil
}

// FinishedSubmission drops the cached snapshot for a submission that
// reached a terminal status so readers see the stored result.
func (h *StoreHooks) FinishedSubmission(ctx context.Context, submissionID int64) error {
	if h.cache == nil {
		return nil
	}
	key := fmt.Sprintf("%s%d", finishedKeyPrefix, submissionID)
	if err := h.cache.Del(ctx, key); err != nil {
		return appErr.Wrap(err, appErr.CacheError)
	}
	return nil
}

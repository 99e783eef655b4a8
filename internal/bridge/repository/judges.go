package repository

import (
	"context"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/bridge/model"
	appErr "ojbridge/pkg/errors"
)

var _ JudgeStore = (*JudgesModel)(nil)

// JudgesModel implements JudgeStore over MySQL.
type JudgesModel struct {
	conn sqlx.SqlConn
}

// NewJudgesModel returns a model for the judges table.
func NewJudgesModel(conn sqlx.SqlConn) *JudgesModel {
	return &JudgesModel{conn: conn}
}

func (m *JudgesModel) Find(ctx context.Context, name string) (*model.Judge, error) {
	var judge model.Judge
	err := m.conn.QueryRowCtx(ctx, &judge, `
	SELECT name, auth_key, online, IFNULL(start_time, NOW()) AS start_time,
	       IFNULL(last_ip, '') AS last_ip, IFNULL(ping, 0) AS ping,
	       IFNULL(`+"`load`"+`, 0) AS `+"`load`"+`
	FROM judges WHERE name = ?`, name)
	switch err {
	case nil:
		return &judge, nil
	case sqlx.ErrNotFound:
		return nil, appErr.Newf(appErr.JudgeNotFound, "judge %s not found", name)
	default:
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
}

func (m *JudgesModel) MarkOnline(ctx context.Context, name, ip string, caps model.Capabilities) error {
	return m.conn.TransactCtx(ctx, func(ctx context.Context, tx sqlx.Session) error {
		if _, err := tx.ExecCtx(ctx, `
		UPDATE judges SET online = 1, start_time = ?, last_ip = ?
		WHERE name = ?`, time.Now(), ip, name); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "mark judge %s online failed", name)
		}

		if _, err := tx.ExecCtx(ctx,
			`DELETE FROM judge_problems WHERE judge = ?`, name); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		for code := range caps.Problems {
			if _, err := tx.ExecCtx(ctx,
				`INSERT INTO judge_problems (judge, problem_code) VALUES (?, ?)`,
				name, code); err != nil {
				return appErr.Wrap(err, appErr.DatabaseError)
			}
		}

		if _, err := tx.ExecCtx(ctx,
			`DELETE FROM runtime_versions WHERE judge = ?`, name); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		for lang, runtimes := range caps.Runtimes {
			for _, rv := range runtimes {
				if _, err := tx.ExecCtx(ctx, `
				INSERT INTO runtime_versions (judge, language, name, version, priority)
				VALUES (?, ?, ?, ?, ?)`,
					name, lang, rv.Name, rv.Version, rv.Priority); err != nil {
					return appErr.Wrap(err, appErr.DatabaseError)
				}
			}
		}
		return nil
	})
}

func (m *JudgesModel) MarkOffline(ctx context.Context, name string) error {
	return m.conn.TransactCtx(ctx, func(ctx context.Context, tx sqlx.Session) error {
		if _, err := tx.ExecCtx(ctx,
			`UPDATE judges SET online = 0 WHERE name = ?`, name); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "mark judge %s offline failed", name)
		}
		if _, err := tx.ExecCtx(ctx,
			`DELETE FROM runtime_versions WHERE judge = ?`, name); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		if _, err := tx.ExecCtx(ctx,
			`DELETE FROM judge_problems WHERE judge = ?`, name); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		return nil
	})
}

// UpdateTelemetry persists ping/load with a single reconnect-and-retry.
// Telemetry must never take down the session: on a second failure the
// caller drops the sample.
func (m *JudgesModel) UpdateTelemetry(ctx context.Context, name string, ping, load float64) error {
	update := func() error {
		_, err := m.conn.ExecCtx(ctx,
			"UPDATE judges SET ping = ?, `load` = ? WHERE name = ?", ping, load, name)
		return err
	}
	if err := update(); err != nil {
		ensureConn(ctx, m.conn)
		if err := update(); err != nil {
			return appErr.Wrapf(err, appErr.PersistenceUnavailable,
				"telemetry write for judge %s failed", name)
		}
	}
	return nil
}

func (m *JudgesModel) ReplaceProblems(ctx context.Context, name string, problems []string) error {
	return m.conn.TransactCtx(ctx, func(ctx context.Context, tx sqlx.Session) error {
		if _, err := tx.ExecCtx(ctx,
			`DELETE FROM judge_problems WHERE judge = ?`, name); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		if len(problems) == 0 {
			return nil
		}
		values := make([]string, 0, len(problems))
		args := make([]interface{}, 0, len(problems)*2)
		for _, code := range problems {
			values = append(values, "(?, ?)")
			args = append(args, name, code)
		}
		query := `INSERT INTO judge_problems (judge, problem_code) VALUES ` +
			strings.Join(values, ", ")
		if _, err := tx.ExecCtx(ctx, query, args...); err != nil {
			return appErr.Wrap(err, appErr.DatabaseError)
		}
		return nil
	})
}

package repository

import (
	"context"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"ojbridge/internal/common/db"
)

// ensureConn re-establishes the store connection once if it has gone
// stale. Liveness here is best-effort; real failures surface on the
// caller's own statement.
func ensureConn(ctx context.Context, conn sqlx.SqlConn) {
	db.Ensure(ctx, conn)
}

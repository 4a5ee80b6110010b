package access

import (
	"context"

	"mindpathdev/logger"

	"go.uber.org/zap"
)

// Until payments exist, PRO is an allow-list of Telegram user ids from
// the environment. A real subscription check plugs in here later.

const deniedReason = "Эта функция доступна только в ⭐ PRO."

type AccessConnectProps struct {
	Logger     *logger.LogMiddleware
	ProUserIDs []int64
}

type Access struct {
	logger *logger.LogMiddleware
	proIDs map[int64]bool
}

func Connect(ctx context.Context, args AccessConnectProps) *Access {
	ids := make(map[int64]bool, len(args.ProUserIDs))
	for _, id := range args.ProUserIDs {
		ids[id] = true
	}
	args.Logger.Logger(ctx).Info("[Access] Allow-list loaded", zap.Int("pro_users", len(ids)))
	return &Access{logger: args.Logger, proIDs: ids}
}

// Check reports whether the user may use PRO features; when denied, the
// reason is shown to the user verbatim.
func (a *Access) Check(userID int64) (bool, string) {
	if a.proIDs[userID] {
		return true, ""
	}
	return false, deniedReason
}

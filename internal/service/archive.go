package service

import (
	"context"
	"time"

	"github.com/liliang-cn/groundchat/internal/repository"
	"go.uber.org/zap"
)

// NewArchiveHook returns an eviction hook that writes every removed session
// to the transcript archive. Archive failures are logged; they never keep a
// session alive.
func NewArchiveHook(repo *repository.TranscriptRepository, timeout time.Duration, logger *zap.Logger) repository.EvictFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(sess *repository.Session, reason repository.EvictReason) {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := repo.Archive(ctx, repository.TranscriptOf(sess, reason)); err != nil {
			logger.Error("failed to archive transcript",
				zap.String("session_id", sess.ID),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			return
		}
		logger.Debug("transcript archived", zap.String("session_id", sess.ID), zap.String("reason", string(reason)))
	}
}

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
	"github.com/fingro/fingro-bot/internal/store"
)

const sweepInterval = 15 * time.Minute

// StartAbandonSweeper runs a background goroutine that periodically marks
// non-terminal sessions idle beyond the TTL as abandoned and archives them.
func StartAbandonSweeper(ctx context.Context, repo store.Repository, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("abandon sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepIdleSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("abandon sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdleSessions(ctx context.Context, repo store.Repository, ttl time.Duration) {
	idle, err := repo.GetIdleSessions(ctx, ttl)
	if err != nil {
		slog.Error("sweeper failed to get idle sessions", "error", err)
		return
	}

	if len(idle) == 0 {
		return
	}

	slog.Info("sweeper found idle sessions", "count", len(idle))

	abandoned := 0
	for _, session := range idle {
		session.State = domain.StateAbandoned
		session.UpdatedAt = time.Now()

		// A conflict means the user came back mid-sweep; leave that
		// session to its live conversation.
		if err := repo.SaveSession(ctx, session); err != nil {
			slog.Debug("sweeper skipped session", "phone", session.Phone, "error", err)
			continue
		}
		if err := repo.ArchiveSession(ctx, session); err != nil {
			slog.Warn("sweeper failed to archive session", "phone", session.Phone, "error", err)
		}
		abandoned++
	}

	slog.Info("sweeper completed", "abandoned", abandoned)
}

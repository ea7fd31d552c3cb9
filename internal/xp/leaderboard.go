// internal/xp/leaderboard.go
package xp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

const (
	defaultLeaderboardLimit = 10
	recentEventsLimit       = 10
	growthWindow            = 30 * day
)

// ErrUnknownPeriod is returned for a period keyword outside daily, weekly, monthly and all-time.
var ErrUnknownPeriod = errors.New("unknown leaderboard period")

// SnapshotStore persists leaderboard snapshots.
type SnapshotStore interface {
	InsertLeaderboard(ctx context.Context, lb model.XPLeaderboard) error
}

// Leaderboard ranks users over windows of the XP ledger.
type Leaderboard struct {
	engine    *Engine
	snapshots SnapshotStore
	logger    *slog.Logger
}

// NewLeaderboard creates a Leaderboard reading through the engine's ledger.
func NewLeaderboard(engine *Engine, snapshots SnapshotStore, logger *slog.Logger) *Leaderboard {
	return &Leaderboard{engine: engine, snapshots: snapshots, logger: logger}
}

// PeriodWindow returns the [start, end] window of a period ending at now.
func PeriodWindow(period string, now time.Time) (time.Time, time.Time, error) {
	switch period {
	case model.PeriodDaily:
		return now.Add(-day), now, nil
	case model.PeriodWeekly:
		return now.Add(-7 * day), now, nil
	case model.PeriodMonthly:
		return now.Add(-30 * day), now, nil
	case model.PeriodAllTime:
		return time.Unix(0, 0).UTC(), now, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
}

// Generate ranks users by the XP they earned in the period and stores the snapshot.
// Ranking is dense: equal totals share a rank and the next distinct total takes the
// following rank. Ties are listed by login, then user id. Participant and XP totals
// cover everyone in the window, not only the listed entries.
func (l *Leaderboard) Generate(ctx context.Context, period string, limit int) (model.XPLeaderboard, error) {
	now := l.engine.clock()
	start, end, err := PeriodWindow(period, now)
	if err != nil {
		return model.XPLeaderboard{}, err
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}

	totals, err := l.engine.ledger.Totals(ctx, start, end)
	if err != nil {
		return model.XPLeaderboard{}, fmt.Errorf("aggregate xp: %w", err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(totals))
	awarded := 0
	for _, t := range totals {
		user, err := l.engine.store.GetUser(ctx, t.UserID)
		if errors.Is(err, database.ErrNotFound) {
			l.logger.Warn("Ledger references unknown user, skipping", "user_id", t.UserID)
			continue
		}
		if err != nil {
			return model.XPLeaderboard{}, fmt.Errorf("get user %s: %w", t.UserID, err)
		}
		awarded += t.Total
		entries = append(entries, model.LeaderboardEntry{
			UserID:     t.UserID,
			Login:      user.Login(),
			TotalXP:    t.Total,
			EventCount: t.EventCount,
			Sources:    t.Sources,
		})
	}
	participants := len(entries)

	slices.SortFunc(entries, func(a, b model.LeaderboardEntry) int {
		return cmp.Or(
			cmp.Compare(b.TotalXP, a.TotalXP),
			cmp.Compare(a.Login, b.Login),
			cmp.Compare(a.UserID, b.UserID),
		)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	denseRank(entries)

	for i := range entries {
		skills, err := l.engine.SkillBreakdown(ctx, entries[i].UserID)
		if err != nil {
			return model.XPLeaderboard{}, fmt.Errorf("skill breakdown for %s: %w", entries[i].UserID, err)
		}
		entries[i].SkillBreakdown = skills
	}

	lb := model.XPLeaderboard{
		ID:                uuid.NewString(),
		Period:            period,
		PeriodStart:       start,
		PeriodEnd:         end,
		Entries:           entries,
		TotalParticipants: participants,
		TotalXPAwarded:    awarded,
		GeneratedAt:       now,
	}
	if err := l.snapshots.InsertLeaderboard(ctx, lb); err != nil {
		return model.XPLeaderboard{}, fmt.Errorf("store leaderboard: %w", err)
	}
	l.logger.Info("Leaderboard generated", "period", period, "entries", len(entries), "participants", participants)
	return lb, nil
}

// denseRank assigns ranks to entries already sorted by descending total.
func denseRank(entries []model.LeaderboardEntry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].TotalXP != entries[i-1].TotalXP {
			rank++
		}
		entries[i].Rank = rank
	}
}

// UserStats summarises one user's lifetime standing. Growth compares the last 30 days
// with the 30 days before them and is zero when the earlier window has no XP. Rank is one
// plus the number of users with a strictly greater lifetime total.
func (l *Leaderboard) UserStats(ctx context.Context, userID string) (model.UserXPStats, error) {
	if _, err := l.engine.store.GetUser(ctx, userID); err != nil {
		return model.UserXPStats{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	ledger := l.engine.ledger
	now := l.engine.clock()

	total, err := ledger.Total(ctx, userID)
	if err != nil {
		return model.UserXPStats{}, err
	}
	skills, err := l.engine.SkillBreakdown(ctx, userID)
	if err != nil {
		return model.UserXPStats{}, err
	}
	recent, err := ledger.Recent(ctx, userID, recentEventsLimit)
	if err != nil {
		return model.UserXPStats{}, err
	}

	thirtyAgo, sixtyAgo := now.Add(-growthWindow), now.Add(-2*growthWindow)
	current, err := ledger.Sum(ctx, userID, "", &thirtyAgo, nil)
	if err != nil {
		return model.UserXPStats{}, err
	}
	previous, err := ledger.Sum(ctx, userID, "", &sixtyAgo, &thirtyAgo)
	if err != nil {
		return model.UserXPStats{}, err
	}
	growth := 0.0
	if previous > 0 {
		growth = float64(current-previous) / float64(previous) * 100
	}

	streak, err := l.engine.Streak(ctx, userID)
	if err != nil {
		return model.UserXPStats{}, err
	}

	lifetime, err := ledger.Lifetime(ctx)
	if err != nil {
		return model.UserXPStats{}, err
	}
	rank := 1
	for _, t := range lifetime {
		if t.UserID != userID && t.Total > total {
			rank++
		}
	}

	if recent == nil {
		recent = []model.XPEvent{}
	}
	return model.UserXPStats{
		UserID:         userID,
		TotalXP:        total,
		SkillBreakdown: skills,
		RecentEvents:   recent,
		ThirtyDayXP:    current,
		GrowthRate:     growth,
		CurrentStreak:  streak,
		Rank:           rank,
	}, nil
}

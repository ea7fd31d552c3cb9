// internal/xp/leaderboard_test.go
package xp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

func newTestLeaderboard(env *testEnv) *Leaderboard {
	return NewLeaderboard(env.engine, env.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateLeaderboard(t *testing.T) {
	ctx := context.Background()

	t.Run("dense ranking with stable tie order", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u3", model.SourcePRMerged, 80, fixedNow.Add(-2*day))
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-2*day))
		seed(t, env.store, "u2", model.SourceCommit, 50, fixedNow.Add(-3*day))
		seed(t, env.store, "u2", model.SourceCodeReview, 30, fixedNow.Add(-day))
		seed(t, env.store, "u4", model.SourceCommit, 10, fixedNow.Add(-day))

		lb, err := newTestLeaderboard(env).Generate(ctx, model.PeriodWeekly, 10)
		require.NoError(t, err)

		require.Len(t, lb.Entries, 4)
		var got []string
		var ranks []int
		for _, e := range lb.Entries {
			got = append(got, e.Login)
			ranks = append(ranks, e.Rank)
		}
		assert.Equal(t, []string{"ann", "bob", "cat", "dan@example.com"}, got)
		assert.Equal(t, []int{1, 2, 2, 3}, ranks)

		bob := lb.Entries[1]
		assert.Equal(t, 2, bob.EventCount)
		assert.Equal(t, map[string]int{"commit": 50, "code_review": 30}, bob.Sources)

		assert.Equal(t, 4, lb.TotalParticipants)
		assert.Equal(t, 270, lb.TotalXPAwarded)
		assert.Equal(t, fixedNow, lb.PeriodEnd)
		assert.Equal(t, fixedNow.Add(-7*day), lb.PeriodStart)
		assert.Equal(t, fixedNow, lb.GeneratedAt)

		stored := env.store.Leaderboards()
		require.Len(t, stored, 1)
		assert.Equal(t, lb.ID, stored[0].ID)
	})

	t.Run("limit truncates entries but not participants", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-time.Hour))
		seed(t, env.store, "u2", model.SourcePRMerged, 80, fixedNow.Add(-time.Hour))
		seed(t, env.store, "u3", model.SourcePRMerged, 80, fixedNow.Add(-time.Hour))

		lb, err := newTestLeaderboard(env).Generate(ctx, model.PeriodDaily, 2)
		require.NoError(t, err)
		require.Len(t, lb.Entries, 2)
		assert.Equal(t, 3, lb.TotalParticipants)
		assert.Equal(t, 260, lb.TotalXPAwarded)
	})

	t.Run("window excludes older events", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-8*day))
		seed(t, env.store, "u2", model.SourceCommit, 1, fixedNow)

		weekly, err := newTestLeaderboard(env).Generate(ctx, model.PeriodWeekly, 10)
		require.NoError(t, err)
		require.Len(t, weekly.Entries, 1)
		assert.Equal(t, "bob", weekly.Entries[0].Login)

		allTime, err := newTestLeaderboard(env).Generate(ctx, model.PeriodAllTime, 10)
		require.NoError(t, err)
		assert.Len(t, allTime.Entries, 2)
	})

	t.Run("skill breakdown covers lifetime events", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		old := model.XPEvent{
			ID: uuid.NewString(), UserID: "u1", Source: model.SourcePRMerged, Amount: 10,
			SkillDistribution: map[string]float64{"go": 0.5, "sql": 0.5},
			CreatedAt:         fixedNow.Add(-90 * day),
		}
		require.NoError(t, env.store.InsertXPEvent(ctx, old))
		_, err := env.engine.AwardPRMerged(ctx, "ann", model.PullRequest{Number: 1}, "r1", nil)
		require.NoError(t, err)

		lb, err := newTestLeaderboard(env).Generate(ctx, model.PeriodDaily, 10)
		require.NoError(t, err)
		require.Len(t, lb.Entries, 1)
		assert.Equal(t, 5, lb.Entries[0].TotalXP)
		assert.InDeltaMapValues(t, map[string]float64{"go": 7.5, "sql": 5, "backend": 2.5}, lb.Entries[0].SkillBreakdown, 1e-9)
	})

	t.Run("unknown users are skipped", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "deleted", model.SourcePRMerged, 500, fixedNow.Add(-time.Hour))
		seed(t, env.store, "u1", model.SourcePRMerged, 5, fixedNow.Add(-time.Hour))

		lb, err := newTestLeaderboard(env).Generate(ctx, model.PeriodDaily, 10)
		require.NoError(t, err)
		require.Len(t, lb.Entries, 1)
		assert.Equal(t, 1, lb.Entries[0].Rank)
	})

	t.Run("unknown period", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		_, err := newTestLeaderboard(env).Generate(ctx, "hourly", 10)
		assert.ErrorIs(t, err, ErrUnknownPeriod)
		assert.Empty(t, env.store.Leaderboards())
	})
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()

	t.Run("growth rank and recent events", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 20, fixedNow.Add(-40*day))
		seed(t, env.store, "u1", model.SourcePRMerged, 10, fixedNow.Add(-10*day))
		seed(t, env.store, "u1", model.SourcePRMerged, 20, fixedNow.Add(-5*day))
		seed(t, env.store, "u2", model.SourcePRMerged, 100, fixedNow.Add(-5*day))
		seed(t, env.store, "u3", model.SourcePRMerged, 50, fixedNow.Add(-5*day))

		stats, err := newTestLeaderboard(env).UserStats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 50, stats.TotalXP)
		assert.Equal(t, 30, stats.ThirtyDayXP)
		assert.InDelta(t, 50.0, stats.GrowthRate, 1e-9)
		assert.Equal(t, 2, stats.Rank, "only bob has strictly more")
		assert.Equal(t, 0, stats.CurrentStreak)
		require.Len(t, stats.RecentEvents, 3)
		assert.Equal(t, fixedNow.Add(-5*day), stats.RecentEvents[0].CreatedAt)
	})

	t.Run("no previous window means zero growth", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u2", model.SourceCommit, 3, fixedNow.Add(-time.Hour))

		stats, err := newTestLeaderboard(env).UserStats(ctx, "u2")
		require.NoError(t, err)
		assert.Zero(t, stats.GrowthRate)
		assert.Equal(t, 1, stats.CurrentStreak)
		assert.Equal(t, 1, stats.Rank)
		assert.NotNil(t, stats.SkillBreakdown)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		_, err := newTestLeaderboard(env).UserStats(ctx, "nobody")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

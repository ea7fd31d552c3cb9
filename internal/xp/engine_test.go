// internal/xp/engine_test.go
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
	"github-insights/internal/database/memory"
	"github-insights/internal/model"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *memory.Store
	engine *Engine
	now    time.Time
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func newTestEnv(t *testing.T, cfg model.XPConfiguration) *testEnv {
	t.Helper()
	env := &testEnv{store: memory.New(), now: fixedNow}
	env.store.PutUser(model.User{ID: "u1", Email: "ann@example.com", GithubUsername: "ann"})
	env.store.PutUser(model.User{ID: "u2", Email: "bob@example.com", GithubUsername: "bob"})
	env.store.PutUser(model.User{ID: "u3", Email: "cat@example.com", GithubUsername: "cat"})
	env.store.PutUser(model.User{ID: "u4", Email: "dan@example.com"})
	env.store.PutRepo(model.Repo{ID: "r1", Name: "Widgets", Owner: "octo", RepoName: "widgets", Tags: []string{"go", "backend"}})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = NewEngine(env.store, env.store, cfg, logger, WithClock(func() time.Time { return env.now }))
	return env
}

func seed(t *testing.T, store *memory.Store, userID string, source model.XPSource, amount int, at time.Time) {
	t.Helper()
	require.NoError(t, store.InsertXPEvent(context.Background(), model.XPEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Source:    source,
		Amount:    amount,
		CreatedAt: at,
	}))
}

func userEvents(t *testing.T, store *memory.Store, userID string) []model.XPEvent {
	t.Helper()
	events, err := store.ListXPEvents(context.Background(), database.XPEventFilter{UserID: userID})
	require.NoError(t, err)
	return events
}

func ptr[T any](v T) *T { return &v }

func TestStreak(t *testing.T) {
	ctx := context.Background()
	today := fixedNow.Add(-time.Hour)

	testCases := []struct {
		name     string
		events   []time.Time
		source   model.XPSource
		expected int
	}{
		{
			name:     "three consecutive days",
			events:   []time.Time{today, today.Add(-day), today.Add(-2 * day)},
			expected: 3,
		},
		{
			name:     "gap yesterday",
			events:   []time.Time{today, today.Add(-2 * day)},
			expected: 1,
		},
		{
			name:     "nothing in the last day",
			events:   []time.Time{today.Add(-2 * day), today.Add(-3 * day)},
			expected: 0,
		},
		{
			name:     "decay is not activity",
			events:   []time.Time{today, today.Add(-day)},
			source:   model.SourceDecay,
			expected: 0,
		},
		{
			name:     "no events",
			expected: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, model.DefaultXPConfiguration())
			source := tc.source
			if source == "" {
				source = model.SourceCommit
			}
			for _, at := range tc.events {
				seed(t, env.store, "u1", source, 1, at)
			}
			streak, err := env.engine.Streak(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, streak)
		})
	}

	t.Run("bounded at thirty days", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		for i := 0; i < 45; i++ {
			seed(t, env.store, "u1", model.SourceCommit, 1, today.Add(-time.Duration(i)*day))
		}
		streak, err := env.engine.Streak(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 30, streak)
	})
}

func TestAwardPRMerged(t *testing.T) {
	ctx := context.Background()

	t.Run("all deterministic bonuses", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		pr := model.PullRequest{Number: 7, Additions: 400, Deletions: 200, TimeToMerge: ptr(500), ApprovedCount: 3}

		ev, err := env.engine.AwardPRMerged(ctx, "ann", pr, "r1", nil)
		require.NoError(t, err)
		require.NotNil(t, ev)

		assert.Equal(t, 10, ev.Amount)
		assert.True(t, ev.IsBonus)
		assert.Equal(t, "large PR, quick merge, multiple approvals", *ev.BonusReason)
		assert.Equal(t, model.SourcePRMerged, ev.Source)
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, "#7", *ev.ReferenceID)
		assert.Equal(t, "https://github.com/octo/widgets/pull/7", *ev.ReferenceURL)
		assert.Equal(t, map[string]float64{"go": 0.5, "backend": 0.5}, ev.SkillDistribution)
		assert.Nil(t, ev.StreakDay)
		assert.Equal(t, fixedNow, ev.CreatedAt)
		assert.Len(t, userEvents(t, env.store, "u1"), 1)
	})

	t.Run("first award without bonuses", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		pr := model.PullRequest{Number: 8, Additions: 50, Deletions: 10, TimeToMerge: ptr(2000), ApprovedCount: 1}

		ev, err := env.engine.AwardPRMerged(ctx, "ann", pr, "r1", nil)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, 5, ev.Amount)
		assert.False(t, ev.IsBonus)
		assert.Nil(t, ev.BonusReason)
	})

	t.Run("quality multiplier", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Quality.Enabled = true
		env := newTestEnv(t, cfg)
		pr := model.PullRequest{Number: 9, Additions: 10, TimeToMerge: ptr(3000)}

		ev, err := env.engine.AwardPRMerged(ctx, "ann", pr, "r1", &Quality{TestCoverage: ptr(85.0)})
		require.NoError(t, err)
		assert.Equal(t, 6, ev.Amount)
		assert.Equal(t, "code quality", *ev.BonusReason)

		ev, err = env.engine.AwardPRMerged(ctx, "bob", pr, "r1", &Quality{TestCoverage: ptr(50.0), LintScore: ptr(95.0)})
		require.NoError(t, err)
		assert.Equal(t, 5, ev.Amount) // floor(5 × 1.1)
	})

	t.Run("unknown login is a no-op", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		ev, err := env.engine.AwardPRMerged(ctx, "ghost", model.PullRequest{Number: 1}, "r1", nil)
		require.NoError(t, err)
		assert.Nil(t, ev)
		all, err := env.store.ListXPEvents(ctx, database.XPEventFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestAwardStreakBonus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, model.DefaultXPConfiguration())
	today := fixedNow.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seed(t, env.store, "u1", model.SourceCodeReview, 2, today.Add(-time.Duration(i)*day))
	}

	ev, err := env.engine.AwardCommit(ctx, "ann", model.Commit{SHA: "abcdef123456", TotalChanges: 10}, "r1")
	require.NoError(t, err)
	assert.Equal(t, 4, ev.Amount)
	assert.Equal(t, 3, *ev.StreakDay)
	assert.Equal(t, "streak day 3", *ev.BonusReason)
	assert.Equal(t, "abcdef1", *ev.ReferenceID)

	t.Run("capped at max bonus", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Streak.MaxBonus = 2
		env := newTestEnv(t, cfg)
		for i := 0; i < 5; i++ {
			seed(t, env.store, "u2", model.SourceCommit, 1, today.Add(-time.Duration(i)*day))
		}
		ev, err := env.engine.AwardCodeReview(ctx, "bob", 3, "r1")
		require.NoError(t, err)
		assert.Equal(t, 4, ev.Amount)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Streak.Enabled = false
		env := newTestEnv(t, cfg)
		seed(t, env.store, "u2", model.SourceCommit, 1, today)
		ev, err := env.engine.AwardRelease(ctx, "bob", model.Release{TagName: "v1.0.0"}, "r1")
		require.NoError(t, err)
		assert.Equal(t, 10, ev.Amount)
		assert.Equal(t, "https://github.com/octo/widgets/releases/tag/v1.0.0", *ev.ReferenceURL)
	})
}

func TestAwardCommitAndIssue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, model.DefaultXPConfiguration())

	ev, err := env.engine.AwardCommit(ctx, "bob", model.Commit{SHA: "123", TotalChanges: 101}, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Amount)
	assert.Equal(t, "large commit", *ev.BonusReason)

	created := fixedNow.Add(-30 * time.Hour)
	closed := created.Add(2 * time.Hour)
	issue := model.Issue{Number: 4, Labels: []string{"bug", "critical"}, CreatedAt: created, ClosedAt: &closed}
	ev, err = env.engine.AwardIssueClosed(ctx, "cat", issue, "r1")
	require.NoError(t, err)
	assert.Equal(t, 6, ev.Amount)
	assert.Equal(t, "high priority, quick resolution", *ev.BonusReason)

	slow := created.Add(48 * time.Hour)
	issue = model.Issue{Number: 5, CreatedAt: created, ClosedAt: &slow}
	ev, err = env.engine.AwardIssueClosed(ctx, "dan@example.com", issue, "")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestAwardMilestone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, model.DefaultXPConfiguration())
	seed(t, env.store, "u1", model.SourceCommit, 1, fixedNow.Add(-time.Hour))

	due := fixedNow.Add(48 * time.Hour)
	closed := fixedNow
	m := model.Milestone{Number: 3, DueOn: &due, ClosedAt: &closed}

	events, err := env.engine.AwardMilestone(ctx, []string{"ann", "bob", "ghost", "ANN"}, m, "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, 7, ev.Amount, "milestone awards are not split and carry no streak")
		assert.Equal(t, "early completion", *ev.BonusReason)
		assert.Nil(t, ev.StreakDay)
		assert.Equal(t, "Milestone #3", *ev.ReferenceID)
	}
	assert.NotEqual(t, events[0].UserID, events[1].UserID)
}

func TestContributorLinkage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, model.DefaultXPConfiguration())
	require.NoError(t, env.store.SaveContributor(ctx, model.Contributor{ID: "c1", RepoID: "r1", Login: "ann", TotalXPEarned: 3}))

	_, err := env.engine.AwardCodeReview(ctx, "ann", 1, "r1")
	require.NoError(t, err)

	c, err := env.store.GetContributor(ctx, "r1", "ann")
	require.NoError(t, err)
	require.NotNil(t, c.UserID)
	assert.Equal(t, "u1", *c.UserID)
	assert.Equal(t, 5, c.TotalXPEarned)

	t.Run("sync write-back keeps linked XP", func(t *testing.T) {
		synced := c
		synced.UserID, synced.TotalXPEarned = nil, 0
		synced.ReviewsGiven = 4
		require.NoError(t, env.store.SaveContributor(ctx, synced))

		got, err := env.store.GetContributor(ctx, "r1", "ann")
		require.NoError(t, err)
		assert.Equal(t, 4, got.ReviewsGiven)
		require.NotNil(t, got.UserID)
		assert.Equal(t, 5, got.TotalXPEarned)
	})

	t.Run("unknown contributor is skipped", func(t *testing.T) {
		ev, err := env.engine.AwardCodeReview(ctx, "ann", 2, "r2")
		require.NoError(t, err)
		assert.NotNil(t, ev)
	})
}

func TestApplyDecay(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive user decays", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-10*day))

		ev, err := env.engine.ApplyDecay(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, -5, ev.Amount)
		assert.Equal(t, model.SourceDecay, ev.Source)
		assert.Equal(t, "Inactive for 10 days", *ev.Reason)
		assert.Equal(t, "ann", *ev.GithubUsername)
	})

	t.Run("active user does not decay", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-6*day))
		ev, err := env.engine.ApplyDecay(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("small totals round to nothing", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourceCommit, 10, fixedNow.Add(-30*day))
		ev, err := env.engine.ApplyDecay(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("user at the floor is untouched", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Decay.MinXP = 90
		env := newTestEnv(t, cfg)
		seed(t, env.store, "u1", model.SourcePRMerged, 90, fixedNow.Add(-30*day))

		for i := 0; i < 3; i++ {
			ev, err := env.engine.ApplyDecay(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, ev)
		}
		total, err := env.engine.Ledger().Total(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 90, total)
	})

	t.Run("repeated decay converges on the floor", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Decay.MinXP = 90
		env := newTestEnv(t, cfg)
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-30*day))

		var totals []int
		for i := 0; i < 4; i++ {
			_, err := env.engine.ApplyDecay(ctx, "u1")
			require.NoError(t, err)
			total, err := env.engine.Ledger().Total(ctx, "u1")
			require.NoError(t, err)
			totals = append(totals, total)
			env.advance(7 * day)
		}
		assert.Equal(t, []int{95, 91, 90, 90}, totals)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := model.DefaultXPConfiguration()
		cfg.Decay.Enabled = false
		env := newTestEnv(t, cfg)
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-30*day))
		ev, err := env.engine.ApplyDecay(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("all users", func(t *testing.T) {
		env := newTestEnv(t, model.DefaultXPConfiguration())
		seed(t, env.store, "u1", model.SourcePRMerged, 100, fixedNow.Add(-30*day))
		seed(t, env.store, "u2", model.SourcePRMerged, 100, fixedNow.Add(-time.Hour))
		seed(t, env.store, "u3", model.SourcePRMerged, 40, fixedNow.Add(-8*day))

		n, err := env.engine.ApplyDecayAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestLedgerRejectsIncompleteEvents(t *testing.T) {
	l := NewLedger(memory.New(), nil)
	_, err := l.Append(context.Background(), model.XPEvent{Source: model.SourceCommit, Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

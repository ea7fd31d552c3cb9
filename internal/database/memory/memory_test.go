// internal/database/memory/memory_test.go
package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

func TestStoreUpsertByNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveIssue(ctx, model.Issue{ID: "a", RepoID: "r1", Number: 7, Title: "first"}))
	require.NoError(t, s.SaveIssue(ctx, model.Issue{ID: "a", RepoID: "r1", Number: 7, Title: "second"}))
	require.NoError(t, s.SaveIssue(ctx, model.Issue{ID: "b", RepoID: "r2", Number: 7, Title: "other repo"}))

	issues, err := s.ListIssues(ctx, "r1", database.ListFilter{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "second", issues[0].Title)

	_, err = s.GetIssue(ctx, "r1", 8)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStoreListFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ms := 3
	alice := "alice"

	require.NoError(t, s.SaveIssue(ctx, model.Issue{RepoID: "r", Number: 1, State: model.IssueOpen, Labels: []string{"bug"}, UpdatedAt: base}))
	require.NoError(t, s.SaveIssue(ctx, model.Issue{RepoID: "r", Number: 2, State: model.IssueClosed, MilestoneID: &ms, UpdatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.SaveCommit(ctx, model.Commit{RepoID: "r", SHA: "1", AuthorLogin: &alice, CommitDate: base}))
	require.NoError(t, s.SaveCommit(ctx, model.Commit{RepoID: "r", SHA: "2", CommitDate: base.Add(time.Hour)}))

	open, _ := s.ListIssues(ctx, "r", database.ListFilter{State: "open"})
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].Number)

	bugs, _ := s.ListIssues(ctx, "r", database.ListFilter{Label: "bug"})
	assert.Len(t, bugs, 1)

	inMilestone, _ := s.ListIssues(ctx, "r", database.ListFilter{MilestoneID: &ms})
	require.Len(t, inMilestone, 1)
	assert.Equal(t, 2, inMilestone[0].Number)

	commits, _ := s.ListCommits(ctx, "r", database.ListFilter{})
	require.Len(t, commits, 2)
	assert.Equal(t, "2", commits[0].SHA, "newest first")

	byAlice, _ := s.ListCommits(ctx, "r", database.ListFilter{Author: "alice"})
	assert.Len(t, byAlice, 1)

	limited, _ := s.ListCommits(ctx, "r", database.ListFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestStoreXPLedger(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	events := []model.XPEvent{
		{ID: "1", UserID: "u1", Source: model.SourceCommit, Amount: 3, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "2", UserID: "u1", Source: model.SourcePRMerged, Amount: 5, CreatedAt: now.Add(-time.Hour)},
		{ID: "3", UserID: "u2", Source: model.SourceCommit, Amount: 2, CreatedAt: now.Add(-time.Hour)},
	}
	for _, e := range events {
		require.NoError(t, s.InsertXPEvent(ctx, e))
	}

	total, err := s.SumXP(ctx, database.XPEventFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	since := now.Add(-24 * time.Hour)
	windowed, _ := s.SumXP(ctx, database.XPEventFilter{UserID: "u1", Since: &since})
	assert.Equal(t, 5, windowed)

	commitsOnly, _ := s.SumXP(ctx, database.XPEventFilter{UserID: "u1", Source: model.SourceCommit})
	assert.Equal(t, 3, commitsOnly)

	latest, _ := s.ListXPEvents(ctx, database.XPEventFilter{UserID: "u1", Desc: true, Limit: 1})
	require.Len(t, latest, 1)
	assert.Equal(t, "2", latest[0].ID)

	totals, _ := s.XPTotals(ctx, since, now)
	assert.Len(t, totals, 2)
	for _, tot := range totals {
		assert.Equal(t, 1, tot.EventCount)
	}

	_, err = s.GetXPConfiguration(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStoreContributorCredit(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.ErrorIs(t, s.CreditContributor(ctx, "r1", "ann", "u1", 2), database.ErrNotFound)

	require.NoError(t, s.SaveContributor(ctx, model.Contributor{ID: "c1", RepoID: "r1", Login: "ann", CommitsCount: 1}))
	stale, err := s.GetContributor(ctx, "r1", "ann")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.CreditContributor(ctx, "r1", "ann", "u1", 2))
		}()
		go func() {
			defer wg.Done()
			// A sync writing back a copy read before any credit.
			c := stale
			c.CommitsCount = 9
			assert.NoError(t, s.SaveContributor(ctx, c))
		}()
	}
	wg.Wait()

	got, err := s.GetContributor(ctx, "r1", "ann")
	require.NoError(t, err)
	assert.Equal(t, 9, got.CommitsCount)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "u1", *got.UserID)
	assert.Equal(t, 100, got.TotalXPEarned)
}

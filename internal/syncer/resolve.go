// internal/syncer/resolve.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github-insights/internal/database"
	custom_errors "github-insights/internal/errors"
	"github-insights/internal/github"
	"github-insights/internal/model"
	"github-insights/internal/reconcile"
)

type cachedFunc[T any] func(ctx context.Context) (value T, syncedAt time.Time, ok bool, err error)

// resolve returns the stored value while it is younger than ttl and no refresh is
// forced. A ttl of zero or less means the stored value never expires on its own.
// When a refresh fails with a degradable error and a stored value exists, the stored
// value is returned instead.
func resolve[T any](ctx context.Context, now time.Time, ttl time.Duration, force bool, cached cachedFunc[T], refresh func(context.Context) (T, error), logger *slog.Logger) (T, error) {
	stored, syncedAt, ok, err := cached(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if ok && !force && (ttl <= 0 || now.Sub(syncedAt) < ttl) {
		return stored, nil
	}

	fresh, err := refresh(ctx)
	if err == nil {
		return fresh, nil
	}
	if ok && degradable(err) {
		logger.Warn("Refresh failed, serving stored data", "synced_at", syncedAt, "error", err)
		return stored, nil
	}
	var zero T
	return zero, err
}

// degradable reports whether a refresh failure may be hidden behind stored data.
// Configuration, authentication and not-found failures always surface.
func degradable(err error) bool {
	if custom_errors.IsConfig(err) {
		return false
	}
	if errors.Is(err, custom_errors.ErrUnauthorized) || errors.Is(err, custom_errors.ErrNotFound) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// listResolve serves a list from the store. It syncs first when refresh is set or
// nothing is stored yet.
func listResolve[T any](ctx context.Context, s *Syncer, refresh bool, list func(context.Context) ([]T, error), sync func(context.Context) (reconcile.Result, error)) ([]T, error) {
	return resolve(ctx, s.reconciler.Now(), 0, refresh,
		func(ctx context.Context) ([]T, time.Time, bool, error) {
			items, err := list(ctx)
			return items, time.Time{}, len(items) > 0, err
		},
		func(ctx context.Context) ([]T, error) {
			if _, err := sync(ctx); err != nil {
				return nil, err
			}
			return list(ctx)
		},
		s.logger,
	)
}

// Branches returns stored branches, syncing first when refresh is set.
func (s *Syncer) Branches(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Branch, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Branch, error) { return s.store.ListBranches(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) { return s.SyncBranches(ctx, repoID, github.Filter{}) },
	)
}

// Commits returns stored commits, syncing first when refresh is set.
func (s *Syncer) Commits(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Commit, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Commit, error) { return s.store.ListCommits(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) {
			return s.SyncCommits(ctx, repoID, github.Filter{Branch: f.Branch, Author: f.Author, Since: f.Since, WithStats: true})
		},
	)
}

// Issues returns stored issues, syncing first when refresh is set.
func (s *Syncer) Issues(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Issue, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Issue, error) { return s.store.ListIssues(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) {
			var labels []string
			if f.Label != "" {
				labels = []string{f.Label}
			}
			return s.SyncIssues(ctx, repoID, github.Filter{State: f.State, Labels: labels, Since: f.Since})
		},
	)
}

// PullRequests returns stored pull requests, syncing first when refresh is set.
func (s *Syncer) PullRequests(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.PullRequest, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.PullRequest, error) { return s.store.ListPullRequests(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) {
			return s.SyncPullRequests(ctx, repoID, github.Filter{State: f.State})
		},
	)
}

// Contributors returns stored contributors, syncing first when refresh is set.
func (s *Syncer) Contributors(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Contributor, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Contributor, error) { return s.store.ListContributors(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) { return s.SyncContributors(ctx, repoID, github.Filter{}) },
	)
}

// Releases returns stored releases, syncing first when refresh is set.
func (s *Syncer) Releases(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Release, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Release, error) { return s.store.ListReleases(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) { return s.SyncReleases(ctx, repoID, github.Filter{}) },
	)
}

// Milestones returns stored milestones, syncing first when refresh is set.
func (s *Syncer) Milestones(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Milestone, error) {
	return listResolve(ctx, s, refresh,
		func(ctx context.Context) ([]model.Milestone, error) { return s.store.ListMilestones(ctx, repoID, f) },
		func(ctx context.Context) (reconcile.Result, error) {
			return s.SyncMilestones(ctx, repoID, github.Filter{State: f.State})
		},
	)
}

// ActivityFeed returns the repository's activity entries, newest first.
func (s *Syncer) ActivityFeed(ctx context.Context, repoID string, f database.ListFilter) ([]model.Activity, error) {
	return s.store.ListActivities(ctx, repoID, f)
}

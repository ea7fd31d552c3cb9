// internal/reconcile/contributors.go
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

const activeWithinDays = 30

var listAll = database.ListFilter{}

// activity holds the counters that can be verified from locally stored entities.
type activity struct {
	prsCreated    int
	prsMerged     int
	issuesCreated int
	issuesClosed  int
	reviewsGiven  int
	linesAdded    int
	linesDeleted  int
	lastCommit    *time.Time
	lastPR        *time.Time
	lastIssue     *time.Time
}

// Contributors upserts contributors by (repo, login). The commit count is replaced by
// the upstream value; the other counters only ever increase.
func (r *Reconciler) Contributors(ctx context.Context, repoID string, items []model.Contributor) (Result, error) {
	now := r.Now()
	verified, err := r.collectActivity(ctx, repoID)
	if err != nil {
		return Result{}, err
	}

	return each(ctx, r, "contributor", items, func(c model.Contributor) any { return c.Login },
		func(ctx context.Context, fresh model.Contributor) (bool, error) {
			if fresh.Login == "" {
				return false, errMissingKey
			}
			act := verified[fresh.Login]
			return upsert(ctx,
				func(ctx context.Context) (model.Contributor, error) {
					return r.store.GetContributor(ctx, repoID, fresh.Login)
				},
				r.store.SaveContributor,
				func() model.Contributor {
					c := fresh
					c.ID = uuid.NewString()
					c.RepoID = repoID
					c.UserID, c.TotalXPEarned = nil, 0
					applyActivity(&c, act, now)
					return c
				},
				func(existing model.Contributor) model.Contributor {
					c := mergeContributor(existing, fresh)
					applyActivity(&c, act, now)
					return c
				},
			)
		}), nil
}

func mergeContributor(existing, fresh model.Contributor) model.Contributor {
	existing.CommitsCount = fresh.CommitsCount
	if fresh.GithubID != 0 {
		existing.GithubID = fresh.GithubID
	}
	if fresh.AvatarURL != nil {
		existing.AvatarURL = fresh.AvatarURL
	}
	return existing
}

func applyActivity(c *model.Contributor, act activity, now time.Time) {
	c.PRsCreated = max(c.PRsCreated, act.prsCreated)
	c.PRsMerged = max(c.PRsMerged, act.prsMerged)
	c.IssuesCreated = max(c.IssuesCreated, act.issuesCreated)
	c.IssuesClosed = max(c.IssuesClosed, act.issuesClosed)
	c.ReviewsGiven = max(c.ReviewsGiven, act.reviewsGiven)
	c.LinesAdded = max(c.LinesAdded, act.linesAdded)
	c.LinesDeleted = max(c.LinesDeleted, act.linesDeleted)

	c.LastCommitDate = latest(c.LastCommitDate, act.lastCommit)
	c.LastPRDate = latest(c.LastPRDate, act.lastPR)
	c.LastIssueDate = latest(c.LastIssueDate, act.lastIssue)
	c.LastActivityDate = latest(c.LastActivityDate, latest(c.LastCommitDate, latest(c.LastPRDate, c.LastIssueDate)))

	if c.LastActivityDate == nil {
		c.DaysInactive = 0
		c.IsActive = c.CommitsCount > 0
		return
	}
	c.DaysInactive = wholeDays(now.Sub(*c.LastActivityDate))
	c.IsActive = c.DaysInactive <= activeWithinDays
}

// collectActivity derives per-login counters from the stored commits, pull requests and issues.
func (r *Reconciler) collectActivity(ctx context.Context, repoID string) (map[string]activity, error) {
	prs, err := r.store.ListPullRequests(ctx, repoID, listAll)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	issues, err := r.store.ListIssues(ctx, repoID, listAll)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	commits, err := r.store.ListCommits(ctx, repoID, listAll)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	out := make(map[string]activity)
	touch := func(login string, fn func(*activity)) {
		if login == "" {
			return
		}
		a := out[login]
		fn(&a)
		out[login] = a
	}

	for _, pr := range prs {
		created := pr.CreatedAt
		touch(pr.AuthorLogin, func(a *activity) {
			a.prsCreated++
			if pr.Merged {
				a.prsMerged++
			}
			a.lastPR = latest(a.lastPR, &created)
		})
		for _, rv := range pr.Reviews {
			if rv.User == pr.AuthorLogin {
				continue
			}
			touch(rv.User, func(a *activity) { a.reviewsGiven++ })
		}
	}
	for _, issue := range issues {
		created := issue.CreatedAt
		touch(issue.AuthorLogin, func(a *activity) {
			a.issuesCreated++
			a.lastIssue = latest(a.lastIssue, &created)
		})
		if issue.State != model.IssueClosed {
			continue
		}
		// Closed issues are credited to their assignees, or the author when unassigned.
		closers := issue.Assignees
		if len(closers) == 0 {
			closers = []string{issue.AuthorLogin}
		}
		for _, login := range closers {
			touch(login, func(a *activity) { a.issuesClosed++ })
		}
	}
	for _, c := range commits {
		if c.AuthorLogin == nil {
			continue
		}
		date := c.CommitDate
		touch(*c.AuthorLogin, func(a *activity) {
			a.linesAdded += c.Additions
			a.linesDeleted += c.Deletions
			a.lastCommit = latest(a.lastCommit, &date)
		})
	}
	return out, nil
}

func latest(a, b *time.Time) *time.Time {
	if b != nil && b.IsZero() {
		b = nil
	}
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

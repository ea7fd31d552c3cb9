// internal/reconcile/entities.go
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github-insights/internal/model"
)

var errMissingKey = errors.New("item has no natural key")

// Branches upserts branches by (repo, name).
func (r *Reconciler) Branches(ctx context.Context, repoID string, items []model.Branch) Result {
	now := r.Now()
	return each(ctx, r, "branch", items, func(b model.Branch) any { return b.Name },
		func(ctx context.Context, fresh model.Branch) (bool, error) {
			if fresh.Name == "" {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.Branch, error) { return r.store.GetBranch(ctx, repoID, fresh.Name) },
				r.store.SaveBranch,
				func() model.Branch {
					b := fresh
					b.ID = uuid.NewString()
					b.RepoID = repoID
					b.LastSynced = now
					b.IsStale = branchStale(b.LastCommitDate, now)
					return b
				},
				func(existing model.Branch) model.Branch {
					b := mergeBranch(existing, fresh)
					b.LastSynced = now
					b.IsStale = branchStale(b.LastCommitDate, now)
					return b
				},
			)
		})
}

func mergeBranch(existing, fresh model.Branch) model.Branch {
	existing.IsDefault = fresh.IsDefault
	existing.IsProtected = fresh.IsProtected
	existing.LastCommitSHA = fresh.LastCommitSHA
	// A failed head lookup only carries the SHA; keep the richer stored details then.
	if fresh.LastCommitDate != nil || fresh.LastCommitSHA != existing.LastCommitSHA {
		existing.LastCommitMessage = fresh.LastCommitMessage
		existing.LastCommitAuthor = fresh.LastCommitAuthor
		existing.LastCommitDate = fresh.LastCommitDate
	}
	return existing
}

// Commits upserts commits by (repo, sha). Content fields are written once.
func (r *Reconciler) Commits(ctx context.Context, repoID string, items []model.Commit) Result {
	now := r.Now()
	return each(ctx, r, "commit", items, func(c model.Commit) any { return c.SHA },
		func(ctx context.Context, fresh model.Commit) (bool, error) {
			if fresh.SHA == "" {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.Commit, error) { return r.store.GetCommit(ctx, repoID, fresh.SHA) },
				r.store.SaveCommit,
				func() model.Commit {
					c := fresh
					c.ID = uuid.NewString()
					c.RepoID = repoID
					if c.AuthorDate.IsZero() {
						c.AuthorDate = now
					}
					if c.CommitDate.IsZero() {
						c.CommitDate = c.AuthorDate
					}
					c.TotalChanges = c.Additions + c.Deletions
					return c
				},
				func(existing model.Commit) model.Commit { return mergeCommit(existing, fresh) },
			)
		})
}

func mergeCommit(existing, fresh model.Commit) model.Commit {
	existing.Verified = fresh.Verified
	existing.VerificationReason = fresh.VerificationReason
	if fresh.PRNumber != nil {
		existing.PRNumber = fresh.PRNumber
	}
	if fresh.Branch != nil {
		existing.Branch = fresh.Branch
	}
	// Line stats count as content once they are known.
	if existing.TotalChanges == 0 && fresh.Additions+fresh.Deletions > 0 {
		existing.Additions = fresh.Additions
		existing.Deletions = fresh.Deletions
		existing.TotalChanges = fresh.Additions + fresh.Deletions
		existing.FilesChanged = fresh.FilesChanged
	}
	return existing
}

// Issues upserts issues by (repo, number) and refreshes activity fields.
func (r *Reconciler) Issues(ctx context.Context, repoID string, items []model.Issue) Result {
	now := r.Now()
	return each(ctx, r, "issue", items, func(i model.Issue) any { return i.Number },
		func(ctx context.Context, fresh model.Issue) (bool, error) {
			if fresh.Number <= 0 {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.Issue, error) { return r.store.GetIssue(ctx, repoID, fresh.Number) },
				r.store.SaveIssue,
				func() model.Issue {
					i := fresh
					i.ID = uuid.NewString()
					i.RepoID = repoID
					if i.CreatedAt.IsZero() {
						i.CreatedAt = now
					}
					if i.UpdatedAt.IsZero() {
						i.UpdatedAt = i.CreatedAt
					}
					i.AISummary, i.AISummaryDate = nil, nil
					deriveIssueActivity(&i, now)
					return i
				},
				func(existing model.Issue) model.Issue {
					i := mergeIssue(existing, fresh)
					deriveIssueActivity(&i, now)
					return i
				},
			)
		})
}

func mergeIssue(existing, fresh model.Issue) model.Issue {
	if fresh.Title != "" {
		existing.Title = fresh.Title
	}
	if fresh.Body != nil {
		existing.Body = fresh.Body
	}
	existing.State = fresh.State
	existing.Assignees = fresh.Assignees
	existing.Labels = fresh.Labels
	existing.MilestoneID = fresh.MilestoneID
	existing.MilestoneTitle = fresh.MilestoneTitle
	existing.CommentsCount = fresh.CommentsCount
	existing.ReactionsCount = fresh.ReactionsCount
	if !fresh.UpdatedAt.IsZero() {
		existing.UpdatedAt = fresh.UpdatedAt
	}
	existing.ClosedAt = fresh.ClosedAt
	return existing
}

// RecomputeIssueActivity refreshes days_since_activity and is_stale for every stored
// issue of the repository, including ones the last fetch did not return.
func (r *Reconciler) RecomputeIssueActivity(ctx context.Context, repoID string) (int, error) {
	now := r.Now()
	issues, err := r.store.ListIssues(ctx, repoID, listAll)
	if err != nil {
		return 0, fmt.Errorf("list issues: %w", err)
	}

	changed := 0
	for _, issue := range issues {
		days, stale := issue.DaysSinceActivity, issue.IsStale
		deriveIssueActivity(&issue, now)
		if issue.DaysSinceActivity == days && issue.IsStale == stale {
			continue
		}
		if err := r.store.SaveIssue(ctx, issue); err != nil {
			r.logger.Warn("Failed to refresh issue activity", "repo_id", repoID, "number", issue.Number, "error", err)
			continue
		}
		changed++
	}
	return changed, nil
}

// PullRequests upserts pull requests by (repo, number) and recomputes cycle metrics.
func (r *Reconciler) PullRequests(ctx context.Context, repoID string, items []model.PullRequest) Result {
	now := r.Now()
	return each(ctx, r, "pull_request", items, func(pr model.PullRequest) any { return pr.Number },
		func(ctx context.Context, fresh model.PullRequest) (bool, error) {
			if fresh.Number <= 0 {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.PullRequest, error) {
					return r.store.GetPullRequest(ctx, repoID, fresh.Number)
				},
				r.store.SavePullRequest,
				func() model.PullRequest {
					pr := fresh
					pr.ID = uuid.NewString()
					pr.RepoID = repoID
					if pr.CreatedAt.IsZero() {
						pr.CreatedAt = now
					}
					if pr.UpdatedAt.IsZero() {
						pr.UpdatedAt = pr.CreatedAt
					}
					if pr.Reviews == nil {
						pr.Reviews = []model.Review{}
					}
					pr.AISummary, pr.AICommitSummary = nil, nil
					derivePullRequestTimings(&pr)
					return pr
				},
				func(existing model.PullRequest) model.PullRequest {
					pr := mergePullRequest(existing, fresh)
					derivePullRequestTimings(&pr)
					return pr
				},
			)
		})
}

func mergePullRequest(existing, fresh model.PullRequest) model.PullRequest {
	if fresh.Title != "" {
		existing.Title = fresh.Title
	}
	if fresh.Body != nil {
		existing.Body = fresh.Body
	}
	existing.State = fresh.State
	existing.Assignees = fresh.Assignees
	existing.RequestedReviewers = fresh.RequestedReviewers
	existing.Labels = fresh.Labels
	existing.MilestoneID = fresh.MilestoneID
	existing.MilestoneTitle = fresh.MilestoneTitle
	existing.HeadBranch = fresh.HeadBranch
	existing.BaseBranch = fresh.BaseBranch
	existing.HeadSHA = fresh.HeadSHA
	existing.BaseSHA = fresh.BaseSHA
	existing.Mergeable = fresh.Mergeable
	existing.Merged = fresh.Merged
	existing.MergedBy = fresh.MergedBy
	existing.MergeCommitSHA = fresh.MergeCommitSHA
	existing.Additions = fresh.Additions
	existing.Deletions = fresh.Deletions
	existing.ChangedFiles = fresh.ChangedFiles
	existing.CommitsCount = fresh.CommitsCount
	existing.CommentsCount = fresh.CommentsCount
	existing.ReviewCommentsCount = fresh.ReviewCommentsCount
	existing.Reviews = fresh.Reviews
	if existing.Reviews == nil {
		existing.Reviews = []model.Review{}
	}
	existing.ApprovedCount = fresh.ApprovedCount
	existing.ChangesRequestedCount = fresh.ChangesRequestedCount
	if !fresh.UpdatedAt.IsZero() {
		existing.UpdatedAt = fresh.UpdatedAt
	}
	existing.ClosedAt = fresh.ClosedAt
	existing.MergedAt = fresh.MergedAt
	return existing
}

// Releases upserts releases by (repo, github id).
func (r *Reconciler) Releases(ctx context.Context, repoID string, items []model.Release) Result {
	now := r.Now()
	return each(ctx, r, "release", items, func(rel model.Release) any { return rel.TagName },
		func(ctx context.Context, fresh model.Release) (bool, error) {
			if fresh.GithubID == 0 {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.Release, error) { return r.store.GetRelease(ctx, repoID, fresh.GithubID) },
				r.store.SaveRelease,
				func() model.Release {
					rel := fresh
					rel.ID = uuid.NewString()
					rel.RepoID = repoID
					if rel.CreatedAt.IsZero() {
						rel.CreatedAt = now
					}
					rel.AssetsCount = len(rel.Assets)
					return rel
				},
				func(existing model.Release) model.Release { return mergeRelease(existing, fresh) },
			)
		})
}

func mergeRelease(existing, fresh model.Release) model.Release {
	existing.Name = fresh.Name
	existing.Body = fresh.Body
	existing.IsPrerelease = fresh.IsPrerelease
	existing.IsDraft = fresh.IsDraft
	existing.Assets = fresh.Assets
	existing.AssetsCount = len(fresh.Assets)
	existing.DownloadCount = fresh.DownloadCount
	existing.PublishedAt = fresh.PublishedAt
	return existing
}

// Milestones upserts milestones by (repo, number) and recomputes progress.
func (r *Reconciler) Milestones(ctx context.Context, repoID string, items []model.Milestone) Result {
	now := r.Now()
	return each(ctx, r, "milestone", items, func(m model.Milestone) any { return m.Number },
		func(ctx context.Context, fresh model.Milestone) (bool, error) {
			if fresh.Number <= 0 {
				return false, errMissingKey
			}
			return upsert(ctx,
				func(ctx context.Context) (model.Milestone, error) { return r.store.GetMilestone(ctx, repoID, fresh.Number) },
				r.store.SaveMilestone,
				func() model.Milestone {
					m := fresh
					m.ID = uuid.NewString()
					m.RepoID = repoID
					if m.CreatedAt.IsZero() {
						m.CreatedAt = now
					}
					if m.UpdatedAt.IsZero() {
						m.UpdatedAt = now
					}
					m.ProgressPercentage = milestoneProgress(m.OpenIssues, m.ClosedIssues)
					return m
				},
				func(existing model.Milestone) model.Milestone {
					m := mergeMilestone(existing, fresh)
					m.ProgressPercentage = milestoneProgress(m.OpenIssues, m.ClosedIssues)
					return m
				},
			)
		})
}

func mergeMilestone(existing, fresh model.Milestone) model.Milestone {
	if fresh.Title != "" {
		existing.Title = fresh.Title
	}
	existing.Description = fresh.Description
	if fresh.State != "" {
		existing.State = fresh.State
	}
	existing.OpenIssues = fresh.OpenIssues
	existing.ClosedIssues = fresh.ClosedIssues
	if !fresh.UpdatedAt.IsZero() {
		existing.UpdatedAt = fresh.UpdatedAt
	}
	existing.DueOn = fresh.DueOn
	existing.ClosedAt = fresh.ClosedAt
	return existing
}

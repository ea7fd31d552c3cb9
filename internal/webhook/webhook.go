// internal/webhook/webhook.go
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github-insights/internal/credentials"
	"github-insights/internal/database"
	"github-insights/internal/github"
	"github-insights/internal/model"
	"github-insights/internal/xp"
)

// Scorer writes XP events for repository actions.
type Scorer interface {
	AwardCommit(ctx context.Context, login string, c model.Commit, repoID string) (*model.XPEvent, error)
	AwardPRMerged(ctx context.Context, login string, pr model.PullRequest, repoID string, q *xp.Quality) (*model.XPEvent, error)
	AwardIssueClosed(ctx context.Context, login string, issue model.Issue, repoID string) (*model.XPEvent, error)
	AwardCodeReview(ctx context.Context, login string, prNumber int, repoID string) (*model.XPEvent, error)
	AwardRelease(ctx context.Context, login string, r model.Release, repoID string) (*model.XPEvent, error)
	AwardMilestone(ctx context.Context, logins []string, m model.Milestone, repoID string) ([]model.XPEvent, error)
}

// PullRequestRefresher re-reads a pull request upstream and reconciles it.
type PullRequestRefresher interface {
	RefreshPullRequest(ctx context.Context, repoID string, number int) (model.PullRequest, error)
}

// CredentialSource resolves secrets by scope.
type CredentialSource interface {
	Get(ctx context.Context, scope string) (string, error)
}

// Store is what ingestion reads locally.
type Store interface {
	database.RepoStore
	GetCommit(ctx context.Context, repoID, sha string) (model.Commit, error)
	ListIssues(ctx context.Context, repoID string, f database.ListFilter) ([]model.Issue, error)
	ListPullRequests(ctx context.Context, repoID string, f database.ListFilter) ([]model.PullRequest, error)
}

// Result summarises one processed delivery.
type Result struct {
	Event   string `json:"event"`
	Actions int    `json:"actions"`
	Awarded int    `json:"awarded"`
}

// Handler turns webhook deliveries into XP awards.
type Handler struct {
	store  Store
	prs    PullRequestRefresher
	scorer Scorer
	creds  CredentialSource
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store Store, prs PullRequestRefresher, scorer Scorer, creds CredentialSource, logger *slog.Logger) *Handler {
	return &Handler{store: store, prs: prs, scorer: scorer, creds: creds, logger: logger}
}

// Handle validates a delivery for repoID and awards XP for every action it carries.
// The repository's own secret takes precedence over the organisation-wide one.
func (h *Handler) Handle(ctx context.Context, repoID string, r *http.Request) (Result, error) {
	repo, err := h.store.GetRepo(ctx, repoID)
	if err != nil {
		return Result{}, fmt.Errorf("get repo %s: %w", repoID, err)
	}
	secret := repo.WebhookSecret
	if secret == "" {
		if secret, err = h.creds.Get(ctx, credentials.ScopeWebhookSecret); err != nil {
			return Result{}, fmt.Errorf("resolve webhook secret: %w", err)
		}
	}

	event, actions, err := github.ParseWebhook(r, []byte(secret))
	if err != nil {
		return Result{Event: event}, err
	}
	logger := h.logger.With("repo_id", repoID, "event", event)
	logger.Debug("Webhook received", "actions", len(actions))

	res := Result{Event: event, Actions: len(actions)}
	var errs []error
	for _, a := range actions {
		n, err := h.dispatch(ctx, repoID, a)
		if err != nil {
			logger.Error("Failed to process webhook action", "kind", a.Kind, "login", a.Login, "error", err)
			errs = append(errs, err)
			continue
		}
		res.Awarded += n
	}
	return res, errors.Join(errs...)
}

func (h *Handler) dispatch(ctx context.Context, repoID string, a github.Action) (int, error) {
	switch a.Kind {
	case github.ActionPRMerged:
		pr := *a.PullRequest
		// The stored copy carries reviews and timings the payload lacks.
		if fresh, err := h.prs.RefreshPullRequest(ctx, repoID, pr.Number); err != nil {
			h.logger.Warn("Failed to refresh merged pull request, scoring payload", "repo_id", repoID, "number", pr.Number, "error", err)
		} else {
			pr = fresh
		}
		return counted(h.scorer.AwardPRMerged(ctx, a.Login, pr, repoID, nil))

	case github.ActionReviewSubmitted:
		return counted(h.scorer.AwardCodeReview(ctx, a.Login, a.PullRequest.Number, repoID))

	case github.ActionIssueClosed:
		return counted(h.scorer.AwardIssueClosed(ctx, a.Login, *a.Issue, repoID))

	case github.ActionCommitPushed:
		commit := *a.Commit
		if stored, err := h.store.GetCommit(ctx, repoID, commit.SHA); err == nil {
			commit = stored
		}
		return counted(h.scorer.AwardCommit(ctx, a.Login, commit, repoID))

	case github.ActionReleasePublished:
		return counted(h.scorer.AwardRelease(ctx, a.Login, *a.Release, repoID))

	case github.ActionMilestoneClosed:
		logins, err := h.milestoneContributors(ctx, repoID, a.Milestone.Number)
		if err != nil {
			return 0, err
		}
		events, err := h.scorer.AwardMilestone(ctx, logins, *a.Milestone, repoID)
		return len(events), err
	}
	return 0, nil
}

// milestoneContributors lists the distinct authors of the milestone's stored issues and pull requests.
func (h *Handler) milestoneContributors(ctx context.Context, repoID string, number int) ([]string, error) {
	f := database.ListFilter{MilestoneID: &number}
	issues, err := h.store.ListIssues(ctx, repoID, f)
	if err != nil {
		return nil, fmt.Errorf("list milestone issues: %w", err)
	}
	prs, err := h.store.ListPullRequests(ctx, repoID, f)
	if err != nil {
		return nil, fmt.Errorf("list milestone pull requests: %w", err)
	}

	seen := make(map[string]bool)
	var logins []string
	add := func(login string) {
		if login != "" && !seen[login] {
			seen[login] = true
			logins = append(logins, login)
		}
	}
	for _, i := range issues {
		add(i.AuthorLogin)
	}
	for _, pr := range prs {
		add(pr.AuthorLogin)
	}
	return logins, nil
}

func counted(ev *model.XPEvent, err error) (int, error) {
	if err != nil || ev == nil {
		return 0, err
	}
	return 1, nil
}

// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "github-insights/internal/errors"
	"github-insights/internal/model"
)

const maxPerPage = 100

// Filter narrows a listing call. Zero values mean "no constraint".
type Filter struct {
	State  string
	Since  *time.Time
	Author string
	Branch string
	Labels []string
	Limit  int
	// WithStats fetches per-commit line statistics, one extra call per commit.
	WithStats bool
}

// Client is a wrapper around the go-github client. It never retries.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// Option customises a Client.
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise (or test) API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return err
		}
		c.gh = gh
		return nil
	}
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}

	c := &Client{
		gh:     github.NewClient(hc),
		logger: logger,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// GetRepositoryMetadata fetches repository statistics plus the language breakdown.
func (c *Client) GetRepositoryMetadata(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify("get repository", err)
	}
	langs, _, err := c.gh.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		// Languages are optional; keep the rest of the snapshot.
		c.logger.Warn("Failed to list languages", "owner", owner, "repo", name, "error", err)
		langs = nil
	}
	return toInternalMetadata(repo, langs), nil
}

// ListBranches lists branches and resolves each head commit. A failed head lookup
// keeps the branch with its SHA only.
func (c *Client) ListBranches(ctx context.Context, owner, name string, f Filter) ([]model.Branch, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify("get repository", err)
	}
	defaultBranch := repo.GetDefaultBranch()

	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: perPage(f.Limit)}}
	branches, err := paginate(ctx, f.Limit, &opts.ListOptions, func() ([]*github.Branch, *github.Response, error) {
		return c.gh.Repositories.ListBranches(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list branches", err)
	}

	out := make([]model.Branch, 0, len(branches))
	for _, b := range branches {
		sha := b.GetCommit().GetSHA()
		head, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
		if err != nil {
			c.logger.Warn("Failed to resolve branch head", "branch", b.GetName(), "sha", sha, "error", err)
			head = nil
		}
		out = append(out, toInternalBranch(b, head, defaultBranch))
	}
	return out, nil
}

// ListCommits lists commits newest first, optionally with line statistics.
func (c *Client) ListCommits(ctx context.Context, owner, name string, f Filter) ([]model.Commit, error) {
	opts := &github.CommitsListOptions{
		SHA:         f.Branch,
		Author:      f.Author,
		ListOptions: github.ListOptions{PerPage: perPage(f.Limit)},
	}
	if f.Since != nil {
		opts.Since = *f.Since
	}

	commits, err := paginate(ctx, f.Limit, &opts.ListOptions, func() ([]*github.RepositoryCommit, *github.Response, error) {
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "page", opts.Page)
		return c.gh.Repositories.ListCommits(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list commits", err)
	}

	out := make([]model.Commit, 0, len(commits))
	for _, rc := range commits {
		if f.WithStats {
			full, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, rc.GetSHA(), nil)
			if err != nil {
				c.logger.Warn("Failed to fetch commit stats", "sha", rc.GetSHA(), "error", err)
			} else {
				rc = full
			}
		}
		commit := toInternalCommit(rc)
		if f.Branch != "" {
			branch := f.Branch
			commit.Branch = &branch
		}
		out = append(out, commit)
	}
	return out, nil
}

// ListIssues lists issues, skipping entries that are pull requests.
func (c *Client) ListIssues(ctx context.Context, owner, name string, f Filter) ([]model.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       stateOrAll(f.State),
		Labels:      f.Labels,
		ListOptions: github.ListOptions{PerPage: perPage(f.Limit)},
	}
	if f.Since != nil {
		opts.Since = *f.Since
	}

	issues, err := paginate(ctx, 0, &opts.ListOptions, func() ([]*github.Issue, *github.Response, error) {
		return c.gh.Issues.ListByRepo(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list issues", err)
	}

	out := make([]model.Issue, 0, len(issues))
	for _, i := range issues {
		if i.IsPullRequest() {
			continue
		}
		out = append(out, toInternalIssue(i))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ListPullRequests lists pull requests with full details and reviews.
// A failed review listing yields a pull request without reviews.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, f Filter) ([]model.PullRequest, error) {
	state := stateOrAll(f.State)
	wantMerged := state == string(model.PRMerged)
	if wantMerged {
		state = "closed"
	}
	opts := &github.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage(f.Limit)},
	}

	prs, err := paginate(ctx, f.Limit, &opts.ListOptions, func() ([]*github.PullRequest, *github.Response, error) {
		return c.gh.PullRequests.List(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list pull requests", err)
	}

	out := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		// The list endpoint omits line counts and merge details.
		full, _, err := c.gh.PullRequests.Get(ctx, owner, name, pr.GetNumber())
		if err != nil {
			c.logger.Warn("Failed to fetch pull request details", "number", pr.GetNumber(), "error", err)
			full = pr
		}
		if wantMerged && !full.GetMerged() {
			continue
		}
		reviews, err := c.listReviews(ctx, owner, name, pr.GetNumber())
		if err != nil {
			c.logger.Warn("Failed to list reviews", "number", pr.GetNumber(), "error", err)
			reviews = nil
		}
		out = append(out, toInternalPullRequest(full, reviews))
	}
	return out, nil
}

// GetPullRequest fetches a single pull request with its reviews.
func (c *Client) GetPullRequest(ctx context.Context, owner, name string, number int) (*model.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, classify("get pull request", err)
	}
	reviews, err := c.listReviews(ctx, owner, name, number)
	if err != nil {
		c.logger.Warn("Failed to list reviews", "number", number, "error", err)
		reviews = nil
	}
	out := toInternalPullRequest(pr, reviews)
	return &out, nil
}

func (c *Client) listReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error) {
	opts := &github.ListOptions{PerPage: maxPerPage}
	return paginate(ctx, 0, opts, func() ([]*github.PullRequestReview, *github.Response, error) {
		return c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
	})
}

// ListContributors lists contributors with their authoritative commit counts.
func (c *Client) ListContributors(ctx context.Context, owner, name string, f Filter) ([]model.Contributor, error) {
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: perPage(f.Limit)}}
	contributors, err := paginate(ctx, f.Limit, &opts.ListOptions, func() ([]*github.Contributor, *github.Response, error) {
		return c.gh.Repositories.ListContributors(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list contributors", err)
	}

	out := make([]model.Contributor, 0, len(contributors))
	for _, ct := range contributors {
		if ct.GetLogin() == "" {
			continue
		}
		out = append(out, toInternalContributor(ct))
	}
	return out, nil
}

// ListReleases lists releases with their assets.
func (c *Client) ListReleases(ctx context.Context, owner, name string, f Filter) ([]model.Release, error) {
	opts := &github.ListOptions{PerPage: perPage(f.Limit)}
	releases, err := paginate(ctx, f.Limit, opts, func() ([]*github.RepositoryRelease, *github.Response, error) {
		return c.gh.Repositories.ListReleases(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list releases", err)
	}

	out := make([]model.Release, 0, len(releases))
	for _, r := range releases {
		out = append(out, toInternalRelease(r))
	}
	return out, nil
}

// ListMilestones lists milestones in every state unless the filter narrows it.
func (c *Client) ListMilestones(ctx context.Context, owner, name string, f Filter) ([]model.Milestone, error) {
	opts := &github.MilestoneListOptions{
		State:       stateOrAll(f.State),
		ListOptions: github.ListOptions{PerPage: perPage(f.Limit)},
	}
	milestones, err := paginate(ctx, f.Limit, &opts.ListOptions, func() ([]*github.Milestone, *github.Response, error) {
		return c.gh.Issues.ListMilestones(ctx, owner, name, opts)
	})
	if err != nil {
		return nil, classify("list milestones", err)
	}

	out := make([]model.Milestone, 0, len(milestones))
	for _, m := range milestones {
		out = append(out, toInternalMilestone(m))
	}
	return out, nil
}

// paginate follows resp.NextPage until exhausted or limit items were collected.
func paginate[T any](ctx context.Context, limit int, opts *github.ListOptions, fetch func() ([]T, *github.Response, error)) ([]T, error) {
	var all []T
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, resp, err := fetch()
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func perPage(limit int) int {
	if limit > 0 && limit < maxPerPage {
		return limit
	}
	return maxPerPage
}

func stateOrAll(state string) string {
	if state == "" {
		return "all"
	}
	return state
}

// classify maps a go-github failure onto the upstream error kinds.
func classify(op string, err error) error {
	kind := custom_errors.ErrTransient

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		kind = custom_errors.ErrRateLimited
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = custom_errors.ErrUnauthorized
		case http.StatusNotFound, http.StatusGone:
			kind = custom_errors.ErrNotFound
		case http.StatusTooManyRequests:
			kind = custom_errors.ErrRateLimited
		}
	}
	return &custom_errors.UpstreamError{Op: op, Kind: kind, Err: err}
}

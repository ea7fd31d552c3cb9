// internal/database/database.go
package database

import (
	"context"
	"errors"
	"time"

	"github-insights/internal/model"
)

var (
	// ErrNotFound is returned by Get* methods when no record matches the key.
	ErrNotFound = errors.New("record not found")
	// ErrCorrupt is returned when a stored record cannot be decoded or fails validation.
	ErrCorrupt = errors.New("stored record is corrupt")
)

// ListFilter narrows entity listings. Zero values mean "no constraint".
type ListFilter struct {
	State       string
	Author      string
	Label       string
	Branch      string
	MilestoneID *int
	Since       *time.Time
	Limit       int
}

// XPEventFilter narrows ledger reads. Since is inclusive, Until exclusive.
type XPEventFilter struct {
	UserID string
	Source model.XPSource
	Since  *time.Time
	Until  *time.Time
	Limit  int
	// Desc orders newest first; otherwise oldest first.
	Desc bool
}

// UserXPTotal is one user's aggregate over a ledger window.
type UserXPTotal struct {
	UserID     string
	Total      int
	EventCount int
	Sources    map[string]int
}

// RepoStore resolves tracked repositories.
type RepoStore interface {
	GetRepo(ctx context.Context, id string) (model.Repo, error)
	ListRepos(ctx context.Context) ([]model.Repo, error)
}

// UserStore resolves internal users.
type UserStore interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByGithubUsername(ctx context.Context, login string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

// SettingsStore reads the organisation settings singleton.
type SettingsStore interface {
	GetAppSettings(ctx context.Context) (model.AppSettings, error)
}

// MetadataStore holds at most one metadata record per repository.
type MetadataStore interface {
	GetRepositoryMetadata(ctx context.Context, repoID string) (model.RepositoryMetadata, error)
	SaveRepositoryMetadata(ctx context.Context, m model.RepositoryMetadata) error
	DeleteRepositoryMetadata(ctx context.Context, repoID string) error
}

// EntityStore persists synced entities. Save* upserts by natural key.
type EntityStore interface {
	GetBranch(ctx context.Context, repoID, name string) (model.Branch, error)
	SaveBranch(ctx context.Context, b model.Branch) error
	ListBranches(ctx context.Context, repoID string, f ListFilter) ([]model.Branch, error)

	GetCommit(ctx context.Context, repoID, sha string) (model.Commit, error)
	SaveCommit(ctx context.Context, c model.Commit) error
	ListCommits(ctx context.Context, repoID string, f ListFilter) ([]model.Commit, error)

	GetIssue(ctx context.Context, repoID string, number int) (model.Issue, error)
	SaveIssue(ctx context.Context, i model.Issue) error
	ListIssues(ctx context.Context, repoID string, f ListFilter) ([]model.Issue, error)

	GetPullRequest(ctx context.Context, repoID string, number int) (model.PullRequest, error)
	SavePullRequest(ctx context.Context, pr model.PullRequest) error
	ListPullRequests(ctx context.Context, repoID string, f ListFilter) ([]model.PullRequest, error)

	GetContributor(ctx context.Context, repoID, login string) (model.Contributor, error)
	// SaveContributor upserts the synced fields. An existing record keeps its
	// user_id and total_xp_earned, which only CreditContributor changes.
	SaveContributor(ctx context.Context, c model.Contributor) error
	// CreditContributor atomically links the contributor to userID and adds amount
	// to its total_xp_earned. Returns ErrNotFound when no such contributor exists.
	CreditContributor(ctx context.Context, repoID, login, userID string, amount int) error
	ListContributors(ctx context.Context, repoID string, f ListFilter) ([]model.Contributor, error)

	GetRelease(ctx context.Context, repoID string, githubID int64) (model.Release, error)
	SaveRelease(ctx context.Context, r model.Release) error
	ListReleases(ctx context.Context, repoID string, f ListFilter) ([]model.Release, error)

	GetMilestone(ctx context.Context, repoID string, number int) (model.Milestone, error)
	SaveMilestone(ctx context.Context, m model.Milestone) error
	ListMilestones(ctx context.Context, repoID string, f ListFilter) ([]model.Milestone, error)
}

// ActivityStore is the append-only activity feed.
type ActivityStore interface {
	InsertActivity(ctx context.Context, a model.Activity) error
	ListActivities(ctx context.Context, repoID string, f ListFilter) ([]model.Activity, error)
}

// XPStore is the append-only XP ledger plus scoring configuration and snapshots.
// Events are never updated or deleted.
type XPStore interface {
	InsertXPEvent(ctx context.Context, e model.XPEvent) error
	ListXPEvents(ctx context.Context, f XPEventFilter) ([]model.XPEvent, error)
	SumXP(ctx context.Context, f XPEventFilter) (int, error)
	XPTotals(ctx context.Context, since, until time.Time) ([]UserXPTotal, error)

	GetXPConfiguration(ctx context.Context) (model.XPConfiguration, error)
	SaveXPConfiguration(ctx context.Context, cfg model.XPConfiguration) error

	InsertLeaderboard(ctx context.Context, lb model.XPLeaderboard) error
}

// Querier is the full store surface implemented by every backend.
type Querier interface {
	RepoStore
	UserStore
	SettingsStore
	MetadataStore
	EntityStore
	ActivityStore
	XPStore
	Close(ctx context.Context) error
}

// internal/model/models.go
package model

import (
	"time"
)

// IssueState is the open/closed state of an issue.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// PRState is the state of a pull request. Merged is tracked separately from closed.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// Repo is a tracked repository as configured by the projects layer.
type Repo struct {
	ID            string   `json:"id" bson:"_id"`
	Name          string   `json:"name" bson:"name"`
	Owner         string   `json:"owner" bson:"owner"`
	RepoName      string   `json:"repo_name" bson:"repo_name"`
	Tags          []string `json:"tags" bson:"tags"`
	WebhookSecret string   `json:"-" bson:"webhook_secret"`
}

// FullName returns the owner/name coordinates of the repository.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.RepoName
}

// User is an internal user that may be linked to a GitHub account.
type User struct {
	ID             string `json:"id" bson:"_id"`
	Email          string `json:"email" bson:"email"`
	GithubUsername string `json:"github_username" bson:"github_username"`
}

// Login returns the name shown on leaderboards.
func (u User) Login() string {
	if u.GithubUsername != "" {
		return u.GithubUsername
	}
	return u.Email
}

// AppSettings holds organisation-wide integration settings.
type AppSettings struct {
	GithubPAT           string `json:"-" bson:"github_pat"`
	GithubWebhookSecret string `json:"-" bson:"github_webhook_secret"`
}

// RepositoryMetadata is the repository-level statistics snapshot, one per repo.
type RepositoryMetadata struct {
	ID              string           `json:"id" bson:"_id"`
	RepoID          string           `json:"repo_id" bson:"repo_id"`
	GithubID        int64            `json:"github_id" bson:"github_id"`
	FullName        string           `json:"full_name" bson:"full_name"`
	Description     *string          `json:"description" bson:"description"`
	Homepage        *string          `json:"homepage" bson:"homepage"`
	StarsCount      int              `json:"stars_count" bson:"stars_count"`
	ForksCount      int              `json:"forks_count" bson:"forks_count"`
	WatchersCount   int              `json:"watchers_count" bson:"watchers_count"`
	OpenIssuesCount int              `json:"open_issues_count" bson:"open_issues_count"`
	Size            int              `json:"size" bson:"size"`
	DefaultBranch   string           `json:"default_branch" bson:"default_branch"`
	Visibility      string           `json:"visibility" bson:"visibility"`
	Archived        bool             `json:"archived" bson:"archived"`
	Disabled        bool             `json:"disabled" bson:"disabled"`
	PrimaryLanguage *string          `json:"primary_language" bson:"primary_language"`
	Languages       map[string]int64 `json:"languages" bson:"languages"`
	LicenseKey      *string          `json:"license_key" bson:"license_key"`
	LicenseName     *string          `json:"license_name" bson:"license_name"`
	Topics          []string         `json:"topics" bson:"topics"`
	CreatedAt       time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" bson:"updated_at"`
	PushedAt        *time.Time       `json:"pushed_at" bson:"pushed_at"`
	LastSynced      time.Time        `json:"last_synced" bson:"last_synced"`
}

// Branch is keyed by (RepoID, Name).
type Branch struct {
	ID                string     `json:"id" bson:"_id"`
	RepoID            string     `json:"repo_id" bson:"repo_id"`
	Name              string     `json:"name" bson:"name"`
	IsDefault         bool       `json:"is_default" bson:"is_default"`
	IsProtected       bool       `json:"is_protected" bson:"is_protected"`
	LastCommitSHA     string     `json:"last_commit_sha" bson:"last_commit_sha"`
	LastCommitMessage *string    `json:"last_commit_message" bson:"last_commit_message"`
	LastCommitAuthor  *string    `json:"last_commit_author" bson:"last_commit_author"`
	LastCommitDate    *time.Time `json:"last_commit_date" bson:"last_commit_date"`
	IsStale           bool       `json:"is_stale" bson:"is_stale"`
	AheadBy           int        `json:"ahead_by" bson:"ahead_by"`
	BehindBy          int        `json:"behind_by" bson:"behind_by"`
	LastSynced        time.Time  `json:"last_synced" bson:"last_synced"`
}

// Commit is keyed by (RepoID, SHA). Content fields never change once stored.
type Commit struct {
	ID                 string    `json:"id" bson:"_id"`
	RepoID             string    `json:"repo_id" bson:"repo_id"`
	SHA                string    `json:"sha" bson:"sha"`
	Message            string    `json:"message" bson:"message"`
	AuthorLogin        *string   `json:"author_login" bson:"author_login"`
	AuthorEmail        *string   `json:"author_email" bson:"author_email"`
	AuthorDate         time.Time `json:"author_date" bson:"author_date"`
	CommitterLogin     *string   `json:"committer_login" bson:"committer_login"`
	CommitterEmail     *string   `json:"committer_email" bson:"committer_email"`
	CommitDate         time.Time `json:"commit_date" bson:"commit_date"`
	Additions          int       `json:"additions" bson:"additions"`
	Deletions          int       `json:"deletions" bson:"deletions"`
	TotalChanges       int       `json:"total_changes" bson:"total_changes"`
	FilesChanged       int       `json:"files_changed" bson:"files_changed"`
	PRNumber           *int      `json:"pr_number" bson:"pr_number"`
	Branch             *string   `json:"branch" bson:"branch"`
	Verified           bool      `json:"verified" bson:"verified"`
	VerificationReason *string   `json:"verification_reason" bson:"verification_reason"`
}

// Issue is keyed by (RepoID, Number).
type Issue struct {
	ID                string     `json:"id" bson:"_id"`
	RepoID            string     `json:"repo_id" bson:"repo_id"`
	GithubID          int64      `json:"github_id" bson:"github_id"`
	Number            int        `json:"number" bson:"number"`
	Title             string     `json:"title" bson:"title"`
	Body              *string    `json:"body" bson:"body"`
	State             IssueState `json:"state" bson:"state"`
	AuthorLogin       string     `json:"author_login" bson:"author_login"`
	AuthorAvatar      *string    `json:"author_avatar" bson:"author_avatar"`
	Assignees         []string   `json:"assignees" bson:"assignees"`
	Labels            []string   `json:"labels" bson:"labels"`
	MilestoneID       *int       `json:"milestone_id" bson:"milestone_id"`
	MilestoneTitle    *string    `json:"milestone_title" bson:"milestone_title"`
	CommentsCount     int        `json:"comments_count" bson:"comments_count"`
	ReactionsCount    int        `json:"reactions_count" bson:"reactions_count"`
	CreatedAt         time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" bson:"updated_at"`
	ClosedAt          *time.Time `json:"closed_at" bson:"closed_at"`
	AISummary         *string    `json:"ai_summary" bson:"ai_summary"`
	AISummaryDate     *time.Time `json:"ai_summary_date" bson:"ai_summary_date"`
	DaysSinceActivity int        `json:"days_since_activity" bson:"days_since_activity"`
	IsStale           bool       `json:"is_stale" bson:"is_stale"`
}

// HasLabel reports whether the issue carries any of the given labels.
func (i Issue) HasLabel(names ...string) bool {
	for _, l := range i.Labels {
		for _, n := range names {
			if l == n {
				return true
			}
		}
	}
	return false
}

// Review is a single pull request review entry.
type Review struct {
	User      string     `json:"user" bson:"user"`
	State     string     `json:"state" bson:"state"`
	CreatedAt *time.Time `json:"created_at" bson:"created_at"`
}

// PullRequest is keyed by (RepoID, Number).
type PullRequest struct {
	ID                    string     `json:"id" bson:"_id"`
	RepoID                string     `json:"repo_id" bson:"repo_id"`
	GithubID              int64      `json:"github_id" bson:"github_id"`
	Number                int        `json:"number" bson:"number"`
	Title                 string     `json:"title" bson:"title"`
	Body                  *string    `json:"body" bson:"body"`
	State                 PRState    `json:"state" bson:"state"`
	AuthorLogin           string     `json:"author_login" bson:"author_login"`
	AuthorAvatar          *string    `json:"author_avatar" bson:"author_avatar"`
	Assignees             []string   `json:"assignees" bson:"assignees"`
	RequestedReviewers    []string   `json:"requested_reviewers" bson:"requested_reviewers"`
	Labels                []string   `json:"labels" bson:"labels"`
	MilestoneID           *int       `json:"milestone_id" bson:"milestone_id"`
	MilestoneTitle        *string    `json:"milestone_title" bson:"milestone_title"`
	HeadBranch            string     `json:"head_branch" bson:"head_branch"`
	BaseBranch            string     `json:"base_branch" bson:"base_branch"`
	HeadSHA               string     `json:"head_sha" bson:"head_sha"`
	BaseSHA               string     `json:"base_sha" bson:"base_sha"`
	Mergeable             *bool      `json:"mergeable" bson:"mergeable"`
	Merged                bool       `json:"merged" bson:"merged"`
	MergedBy              *string    `json:"merged_by" bson:"merged_by"`
	MergeCommitSHA        *string    `json:"merge_commit_sha" bson:"merge_commit_sha"`
	Additions             int        `json:"additions" bson:"additions"`
	Deletions             int        `json:"deletions" bson:"deletions"`
	ChangedFiles          int        `json:"changed_files" bson:"changed_files"`
	CommitsCount          int        `json:"commits_count" bson:"commits_count"`
	CommentsCount         int        `json:"comments_count" bson:"comments_count"`
	ReviewCommentsCount   int        `json:"review_comments_count" bson:"review_comments_count"`
	Reviews               []Review   `json:"reviews" bson:"reviews"`
	ApprovedCount         int        `json:"approved_count" bson:"approved_count"`
	ChangesRequestedCount int        `json:"changes_requested_count" bson:"changes_requested_count"`
	CreatedAt             time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" bson:"updated_at"`
	ClosedAt              *time.Time `json:"closed_at" bson:"closed_at"`
	MergedAt              *time.Time `json:"merged_at" bson:"merged_at"`
	TimeToFirstReview     *int       `json:"time_to_first_review" bson:"time_to_first_review"`
	TimeToMerge           *int       `json:"time_to_merge" bson:"time_to_merge"`
	AISummary             *string    `json:"ai_summary" bson:"ai_summary"`
	AICommitSummary       *string    `json:"ai_commit_summary" bson:"ai_commit_summary"`
}

// Contributor is keyed by (RepoID, Login).
type Contributor struct {
	ID               string     `json:"id" bson:"_id"`
	RepoID           string     `json:"repo_id" bson:"repo_id"`
	Login            string     `json:"login" bson:"login"`
	GithubID         int64      `json:"github_id" bson:"github_id"`
	AvatarURL        *string    `json:"avatar_url" bson:"avatar_url"`
	CommitsCount     int        `json:"commits_count" bson:"commits_count"`
	PRsCreated       int        `json:"prs_created" bson:"prs_created"`
	PRsMerged        int        `json:"prs_merged" bson:"prs_merged"`
	IssuesCreated    int        `json:"issues_created" bson:"issues_created"`
	IssuesClosed     int        `json:"issues_closed" bson:"issues_closed"`
	ReviewsGiven     int        `json:"reviews_given" bson:"reviews_given"`
	LinesAdded       int        `json:"lines_added" bson:"lines_added"`
	LinesDeleted     int        `json:"lines_deleted" bson:"lines_deleted"`
	LastCommitDate   *time.Time `json:"last_commit_date" bson:"last_commit_date"`
	LastPRDate       *time.Time `json:"last_pr_date" bson:"last_pr_date"`
	LastIssueDate    *time.Time `json:"last_issue_date" bson:"last_issue_date"`
	LastActivityDate *time.Time `json:"last_activity_date" bson:"last_activity_date"`
	IsActive         bool       `json:"is_active" bson:"is_active"`
	DaysInactive     int        `json:"days_inactive" bson:"days_inactive"`
	UserID           *string    `json:"user_id" bson:"user_id"`
	TotalXPEarned    int        `json:"total_xp_earned" bson:"total_xp_earned"`
}

// ReleaseAsset is one downloadable file attached to a release.
type ReleaseAsset struct {
	Name          string     `json:"name" bson:"name"`
	Size          int        `json:"size" bson:"size"`
	DownloadCount int        `json:"download_count" bson:"download_count"`
	ContentType   string     `json:"content_type" bson:"content_type"`
	CreatedAt     *time.Time `json:"created_at" bson:"created_at"`
}

// Release is keyed by (RepoID, GithubID).
type Release struct {
	ID            string         `json:"id" bson:"_id"`
	RepoID        string         `json:"repo_id" bson:"repo_id"`
	GithubID      int64          `json:"github_id" bson:"github_id"`
	TagName       string         `json:"tag_name" bson:"tag_name"`
	Name          *string        `json:"name" bson:"name"`
	Body          *string        `json:"body" bson:"body"`
	IsPrerelease  bool           `json:"is_prerelease" bson:"is_prerelease"`
	IsDraft       bool           `json:"is_draft" bson:"is_draft"`
	AuthorLogin   string         `json:"author_login" bson:"author_login"`
	Assets        []ReleaseAsset `json:"assets" bson:"assets"`
	AssetsCount   int            `json:"assets_count" bson:"assets_count"`
	DownloadCount int            `json:"download_count" bson:"download_count"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
	PublishedAt   *time.Time     `json:"published_at" bson:"published_at"`
}

// Milestone is keyed by (RepoID, Number).
type Milestone struct {
	ID                 string     `json:"id" bson:"_id"`
	RepoID             string     `json:"repo_id" bson:"repo_id"`
	GithubID           int64      `json:"github_id" bson:"github_id"`
	Number             int        `json:"number" bson:"number"`
	Title              string     `json:"title" bson:"title"`
	Description        *string    `json:"description" bson:"description"`
	State              string     `json:"state" bson:"state"`
	OpenIssues         int        `json:"open_issues" bson:"open_issues"`
	ClosedIssues       int        `json:"closed_issues" bson:"closed_issues"`
	ProgressPercentage float64    `json:"progress_percentage" bson:"progress_percentage"`
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" bson:"updated_at"`
	DueOn              *time.Time `json:"due_on" bson:"due_on"`
	ClosedAt           *time.Time `json:"closed_at" bson:"closed_at"`
}

// Activity event types written by the sync orchestrator.
const (
	ActivitySyncCompleted = "sync_completed"
	ActivitySyncFailed    = "sync_failed"
)

// Activity is an append-only feed entry.
type Activity struct {
	ID          string         `json:"id" bson:"_id"`
	RepoID      string         `json:"repo_id" bson:"repo_id"`
	EventType   string         `json:"event_type" bson:"event_type"`
	EventID     *string        `json:"event_id" bson:"event_id"`
	ActorLogin  string         `json:"actor_login" bson:"actor_login"`
	Title       string         `json:"title" bson:"title"`
	Description *string        `json:"description" bson:"description"`
	Metadata    map[string]any `json:"metadata" bson:"metadata"`
	OccurredAt  time.Time      `json:"occurred_at" bson:"occurred_at"`
}

// internal/database/postgres/postgres.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

// Store implements database.Querier on PostgreSQL. Synced entities are stored as
// JSONB documents keyed by their natural key; the columns beside the document exist
// for ordering and filtering.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Querier = (*Store)(nil)

// New connects a pool to dbURL.
func New(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies every pending migration found at sourceURL (e.g. "file://migrations").
func Migrate(sourceURL, dbURL string) error {
	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// query accumulates WHERE conditions. Each condition carries one %d verb for its placeholder.
type query struct {
	conds []string
	args  []any
}

func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, fmt.Sprintf(cond, len(q.args)))
}

func (q *query) build(base, orderBy string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), q.args
}

func getDoc[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) (T, error) {
	var zero T
	var raw []byte
	if err := pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, database.ErrNotFound
		}
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("%w: %v", database.ErrCorrupt, err)
	}
	return v, nil
}

func listDocs[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", database.ErrCorrupt, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// exec marshals doc into the last placeholder of sql.
func (s *Store) exec(ctx context.Context, sql string, doc any, args ...any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sql, append(args, raw)...)
	return err
}

func (s *Store) GetRepo(ctx context.Context, id string) (model.Repo, error) {
	var r model.Repo
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner, repo_name, tags, webhook_secret FROM repos WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Owner, &r.RepoName, &r.Tags, &r.WebhookSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repo{}, database.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRepos(ctx context.Context) ([]model.Repo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, owner, repo_name, tags, webhook_secret FROM repos ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Repo, error) {
		var r model.Repo
		err := row.Scan(&r.ID, &r.Name, &r.Owner, &r.RepoName, &r.Tags, &r.WebhookSecret)
		return r, err
	})
}

// UpsertRepo registers or replaces a tracked repository.
func (s *Store) UpsertRepo(ctx context.Context, r model.Repo) error {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repos (id, name, owner, repo_name, tags, webhook_secret)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, owner = EXCLUDED.owner, repo_name = EXCLUDED.repo_name,
			tags = EXCLUDED.tags, webhook_secret = EXCLUDED.webhook_secret`,
		r.ID, r.Name, r.Owner, r.RepoName, tags, r.WebhookSecret)
	return err
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.GithubUsername)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, database.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT id, email, github_username FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByGithubUsername(ctx context.Context, login string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, github_username FROM users
		 WHERE github_username <> '' AND lower(github_username) = lower($1)
		 ORDER BY id LIMIT 1`, login))
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, github_username FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.User])
}

// UpsertUser registers or replaces a user.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, github_username) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, github_username = EXCLUDED.github_username`,
		u.ID, u.Email, u.GithubUsername)
	return err
}

// GetAppSettings returns the settings singleton, or zero settings when none are stored.
func (s *Store) GetAppSettings(ctx context.Context) (model.AppSettings, error) {
	var a model.AppSettings
	err := s.pool.QueryRow(ctx, `SELECT github_pat, github_webhook_secret FROM app_settings WHERE id`).
		Scan(&a.GithubPAT, &a.GithubWebhookSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AppSettings{}, nil
	}
	return a, err
}

// SaveAppSettings replaces the settings singleton.
func (s *Store) SaveAppSettings(ctx context.Context, a model.AppSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_settings (id, github_pat, github_webhook_secret) VALUES (TRUE, $1, $2)
		ON CONFLICT (id) DO UPDATE SET github_pat = EXCLUDED.github_pat, github_webhook_secret = EXCLUDED.github_webhook_secret`,
		a.GithubPAT, a.GithubWebhookSecret)
	return err
}

func (s *Store) GetRepositoryMetadata(ctx context.Context, repoID string) (model.RepositoryMetadata, error) {
	return getDoc[model.RepositoryMetadata](ctx, s.pool, `SELECT doc FROM repository_metadata WHERE repo_id = $1`, repoID)
}

func (s *Store) SaveRepositoryMetadata(ctx context.Context, m model.RepositoryMetadata) error {
	return s.exec(ctx, `
		INSERT INTO repository_metadata (repo_id, doc) VALUES ($1, $2)
		ON CONFLICT (repo_id) DO UPDATE SET doc = EXCLUDED.doc`, m, m.RepoID)
}

func (s *Store) DeleteRepositoryMetadata(ctx context.Context, repoID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repository_metadata WHERE repo_id = $1`, repoID)
	return err
}

func (s *Store) GetBranch(ctx context.Context, repoID, name string) (model.Branch, error) {
	return getDoc[model.Branch](ctx, s.pool, `SELECT doc FROM branches WHERE repo_id = $1 AND name = $2`, repoID, name)
}

func (s *Store) SaveBranch(ctx context.Context, b model.Branch) error {
	return s.exec(ctx, `
		INSERT INTO branches (repo_id, name, doc) VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, name) DO UPDATE SET doc = EXCLUDED.doc`, b, b.RepoID, b.Name)
}

func (s *Store) ListBranches(ctx context.Context, repoID string, f database.ListFilter) ([]model.Branch, error) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	sql, args := q.build("SELECT doc FROM branches", "name", f.Limit)
	return listDocs[model.Branch](ctx, s.pool, sql, args...)
}

func (s *Store) GetCommit(ctx context.Context, repoID, sha string) (model.Commit, error) {
	return getDoc[model.Commit](ctx, s.pool, `SELECT doc FROM commits WHERE repo_id = $1 AND sha = $2`, repoID, sha)
}

func (s *Store) SaveCommit(ctx context.Context, c model.Commit) error {
	return s.exec(ctx, `
		INSERT INTO commits (repo_id, sha, commit_date, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, sha) DO UPDATE SET commit_date = EXCLUDED.commit_date, doc = EXCLUDED.doc`,
		c, c.RepoID, c.SHA, c.CommitDate)
}

func commitQuery(repoID string, f database.ListFilter) (string, []any) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	if f.Author != "" {
		q.where("doc->>'author_login' = $%d", f.Author)
	}
	if f.Branch != "" {
		q.where("doc->>'branch' = $%d", f.Branch)
	}
	if f.Since != nil {
		q.where("commit_date >= $%d", *f.Since)
	}
	return q.build("SELECT doc FROM commits", "commit_date DESC", f.Limit)
}

func (s *Store) ListCommits(ctx context.Context, repoID string, f database.ListFilter) ([]model.Commit, error) {
	sql, args := commitQuery(repoID, f)
	return listDocs[model.Commit](ctx, s.pool, sql, args...)
}

// trackerQuery filters issues and pull requests, which share their filterable fields.
func trackerQuery(table, repoID string, f database.ListFilter) (string, []any) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	if f.State != "" {
		q.where("doc->>'state' = $%d", f.State)
	}
	if f.Author != "" {
		q.where("doc->>'author_login' = $%d", f.Author)
	}
	if f.Label != "" {
		q.where("doc->'labels' ? $%d", f.Label)
	}
	if f.MilestoneID != nil {
		q.where("(doc->>'milestone_id')::int = $%d", *f.MilestoneID)
	}
	if f.Since != nil {
		q.where("updated_at >= $%d", *f.Since)
	}
	return q.build("SELECT doc FROM "+table, "updated_at DESC", f.Limit)
}

func (s *Store) GetIssue(ctx context.Context, repoID string, number int) (model.Issue, error) {
	return getDoc[model.Issue](ctx, s.pool, `SELECT doc FROM issues WHERE repo_id = $1 AND number = $2`, repoID, number)
}

func (s *Store) SaveIssue(ctx context.Context, i model.Issue) error {
	return s.exec(ctx, `
		INSERT INTO issues (repo_id, number, updated_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, number) DO UPDATE SET updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc`,
		i, i.RepoID, i.Number, i.UpdatedAt)
}

func (s *Store) ListIssues(ctx context.Context, repoID string, f database.ListFilter) ([]model.Issue, error) {
	sql, args := trackerQuery("issues", repoID, f)
	return listDocs[model.Issue](ctx, s.pool, sql, args...)
}

func (s *Store) GetPullRequest(ctx context.Context, repoID string, number int) (model.PullRequest, error) {
	return getDoc[model.PullRequest](ctx, s.pool, `SELECT doc FROM pull_requests WHERE repo_id = $1 AND number = $2`, repoID, number)
}

func (s *Store) SavePullRequest(ctx context.Context, pr model.PullRequest) error {
	return s.exec(ctx, `
		INSERT INTO pull_requests (repo_id, number, updated_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, number) DO UPDATE SET updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc`,
		pr, pr.RepoID, pr.Number, pr.UpdatedAt)
}

func (s *Store) ListPullRequests(ctx context.Context, repoID string, f database.ListFilter) ([]model.PullRequest, error) {
	sql, args := trackerQuery("pull_requests", repoID, f)
	return listDocs[model.PullRequest](ctx, s.pool, sql, args...)
}

func (s *Store) GetContributor(ctx context.Context, repoID, login string) (model.Contributor, error) {
	return getDoc[model.Contributor](ctx, s.pool, `SELECT doc FROM contributors WHERE repo_id = $1 AND login = $2`, repoID, login)
}

func (s *Store) SaveContributor(ctx context.Context, c model.Contributor) error {
	return s.exec(ctx, `
		INSERT INTO contributors (repo_id, login, doc) VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, login) DO UPDATE SET doc = EXCLUDED.doc || jsonb_build_object(
			'user_id', contributors.doc->'user_id',
			'total_xp_earned', COALESCE(contributors.doc->'total_xp_earned', '0'::jsonb))`, c, c.RepoID, c.Login)
}

func (s *Store) CreditContributor(ctx context.Context, repoID, login, userID string, amount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contributors SET doc = doc || jsonb_build_object(
			'user_id', $3::text,
			'total_xp_earned', COALESCE((doc->>'total_xp_earned')::int, 0) + $4::int)
		WHERE repo_id = $1 AND login = $2`, repoID, login, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) ListContributors(ctx context.Context, repoID string, f database.ListFilter) ([]model.Contributor, error) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	sql, args := q.build("SELECT doc FROM contributors", "(doc->>'commits_count')::int DESC, login", f.Limit)
	return listDocs[model.Contributor](ctx, s.pool, sql, args...)
}

func (s *Store) GetRelease(ctx context.Context, repoID string, githubID int64) (model.Release, error) {
	return getDoc[model.Release](ctx, s.pool, `SELECT doc FROM releases WHERE repo_id = $1 AND github_id = $2`, repoID, githubID)
}

func (s *Store) SaveRelease(ctx context.Context, r model.Release) error {
	return s.exec(ctx, `
		INSERT INTO releases (repo_id, github_id, created_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, github_id) DO UPDATE SET created_at = EXCLUDED.created_at, doc = EXCLUDED.doc`,
		r, r.RepoID, r.GithubID, r.CreatedAt)
}

func (s *Store) ListReleases(ctx context.Context, repoID string, f database.ListFilter) ([]model.Release, error) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	sql, args := q.build("SELECT doc FROM releases", "created_at DESC", f.Limit)
	return listDocs[model.Release](ctx, s.pool, sql, args...)
}

func (s *Store) GetMilestone(ctx context.Context, repoID string, number int) (model.Milestone, error) {
	return getDoc[model.Milestone](ctx, s.pool, `SELECT doc FROM milestones WHERE repo_id = $1 AND number = $2`, repoID, number)
}

func (s *Store) SaveMilestone(ctx context.Context, m model.Milestone) error {
	return s.exec(ctx, `
		INSERT INTO milestones (repo_id, number, doc) VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, number) DO UPDATE SET doc = EXCLUDED.doc`, m, m.RepoID, m.Number)
}

func (s *Store) ListMilestones(ctx context.Context, repoID string, f database.ListFilter) ([]model.Milestone, error) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	if f.State != "" {
		q.where("doc->>'state' = $%d", f.State)
	}
	sql, args := q.build("SELECT doc FROM milestones", "number", f.Limit)
	return listDocs[model.Milestone](ctx, s.pool, sql, args...)
}

func (s *Store) InsertActivity(ctx context.Context, a model.Activity) error {
	return s.exec(ctx, `INSERT INTO activities (id, repo_id, occurred_at, doc) VALUES ($1, $2, $3, $4)`,
		a, a.ID, a.RepoID, a.OccurredAt)
}

func (s *Store) ListActivities(ctx context.Context, repoID string, f database.ListFilter) ([]model.Activity, error) {
	q := &query{}
	q.where("repo_id = $%d", repoID)
	if f.Since != nil {
		q.where("occurred_at >= $%d", *f.Since)
	}
	sql, args := q.build("SELECT doc FROM activities", "occurred_at DESC", f.Limit)
	return listDocs[model.Activity](ctx, s.pool, sql, args...)
}

func (s *Store) InsertXPEvent(ctx context.Context, e model.XPEvent) error {
	return s.exec(ctx, `
		INSERT INTO xp_events (id, user_id, source, amount, created_at, doc) VALUES ($1, $2, $3, $4, $5, $6)`,
		e, e.ID, e.UserID, string(e.Source), e.Amount, e.CreatedAt)
}

func xpQuery(f database.XPEventFilter) *query {
	q := &query{}
	if f.UserID != "" {
		q.where("user_id = $%d", f.UserID)
	}
	if f.Source != "" {
		q.where("source = $%d", string(f.Source))
	}
	if f.Since != nil {
		q.where("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		q.where("created_at < $%d", *f.Until)
	}
	return q
}

func (s *Store) ListXPEvents(ctx context.Context, f database.XPEventFilter) ([]model.XPEvent, error) {
	order := "created_at, id"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}
	sql, args := xpQuery(f).build("SELECT doc FROM xp_events", order, f.Limit)
	return listDocs[model.XPEvent](ctx, s.pool, sql, args...)
}

func (s *Store) SumXP(ctx context.Context, f database.XPEventFilter) (int, error) {
	sql, args := xpQuery(f).build("SELECT COALESCE(SUM(amount), 0) FROM xp_events", "", 0)
	var total int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, err
	}
	return int(total), nil
}

func (s *Store) XPTotals(ctx context.Context, since, until time.Time) ([]database.UserXPTotal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, source, SUM(amount), COUNT(*)
		FROM xp_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY user_id, source
		ORDER BY user_id, source`, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.UserXPTotal
	index := make(map[string]int)
	for rows.Next() {
		var (
			userID, source string
			sum, count     int64
		)
		if err := rows.Scan(&userID, &source, &sum, &count); err != nil {
			return nil, err
		}
		i, ok := index[userID]
		if !ok {
			i = len(out)
			index[userID] = i
			out = append(out, database.UserXPTotal{UserID: userID, Sources: make(map[string]int)})
		}
		out[i].Total += int(sum)
		out[i].EventCount += int(count)
		out[i].Sources[source] += int(sum)
	}
	return out, rows.Err()
}

func (s *Store) GetXPConfiguration(ctx context.Context) (model.XPConfiguration, error) {
	return getDoc[model.XPConfiguration](ctx, s.pool, `SELECT doc FROM xp_configuration WHERE id`)
}

func (s *Store) SaveXPConfiguration(ctx context.Context, cfg model.XPConfiguration) error {
	return s.exec(ctx, `
		INSERT INTO xp_configuration (id, doc) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, cfg)
}

func (s *Store) InsertLeaderboard(ctx context.Context, lb model.XPLeaderboard) error {
	return s.exec(ctx, `INSERT INTO xp_leaderboards (id, period, generated_at, doc) VALUES ($1, $2, $3, $4)`,
		lb, lb.ID, lb.Period, lb.GeneratedAt)
}

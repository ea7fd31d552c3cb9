// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github-insights/internal/cache"
	"github-insights/internal/credentials"
	"github-insights/internal/database"
	custom_errors "github-insights/internal/errors"
	"github-insights/internal/github"
	"github-insights/internal/model"
	"github-insights/internal/reconcile"
)

const (
	defaultConcurrency = 5
	defaultMetadataTTL = time.Hour
	defaultCommitLimit = 100
	systemActor        = "system"
)

// RepoClient is the upstream API surface the syncer drives.
type RepoClient interface {
	GetRepositoryMetadata(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error)
	ListBranches(ctx context.Context, owner, name string, f github.Filter) ([]model.Branch, error)
	ListCommits(ctx context.Context, owner, name string, f github.Filter) ([]model.Commit, error)
	ListIssues(ctx context.Context, owner, name string, f github.Filter) ([]model.Issue, error)
	ListPullRequests(ctx context.Context, owner, name string, f github.Filter) ([]model.PullRequest, error)
	GetPullRequest(ctx context.Context, owner, name string, number int) (*model.PullRequest, error)
	ListContributors(ctx context.Context, owner, name string, f github.Filter) ([]model.Contributor, error)
	ListReleases(ctx context.Context, owner, name string, f github.Filter) ([]model.Release, error)
	ListMilestones(ctx context.Context, owner, name string, f github.Filter) ([]model.Milestone, error)
}

// ClientFactory builds an upstream client authenticated with token.
type ClientFactory func(token string) (RepoClient, error)

// CredentialSource resolves secrets by scope.
type CredentialSource interface {
	Get(ctx context.Context, scope string) (string, error)
}

// Store is the slice of the database the syncer reads and writes.
type Store interface {
	database.RepoStore
	database.MetadataStore
	database.EntityStore
	database.ActivityStore
}

// Config tunes the syncer.
type Config struct {
	// ReposToSync restricts the poller to these owner/name repositories; empty means all tracked repos.
	ReposToSync []string
	Interval    time.Duration
	Concurrency int
	MetadataTTL time.Duration
	CommitLimit int
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

func (id RepoIdentifier) String() string { return id.Owner + "/" + id.Name }

// Syncer orchestrates fetching upstream data and reconciling it into the store.
type Syncer struct {
	store      Store
	newClient  ClientFactory
	creds      CredentialSource
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	cfg        Config
	selected   []RepoIdentifier
	metaCache  *cache.TTL[string, model.RepositoryMetadata]
	background sync.WaitGroup
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(store Store, newClient ClientFactory, creds CredentialSource, reconciler *reconcile.Reconciler, logger *slog.Logger, cfg Config) (*Syncer, error) {
	selected, err := parseRepoIdentifiers(cfg.ReposToSync)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MetadataTTL == 0 {
		cfg.MetadataTTL = defaultMetadataTTL
	}
	if cfg.CommitLimit <= 0 {
		cfg.CommitLimit = defaultCommitLimit
	}
	return &Syncer{
		store:      store,
		newClient:  newClient,
		creds:      creds,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
		selected:   selected,
		metaCache:  cache.NewTTL[string, model.RepositoryMetadata](cfg.MetadataTTL),
	}, nil
}

// target is a repository whose preconditions have been checked.
type target struct {
	repo   model.Repo
	client RepoClient
	logger *slog.Logger
}

// prepare checks that the repository has an identity and that a credential is available.
func (s *Syncer) prepare(ctx context.Context, repoID string) (*target, error) {
	repo, err := s.store.GetRepo(ctx, repoID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &custom_errors.ConfigError{Field: "repo_id", Reason: fmt.Sprintf("repository %q is not tracked", repoID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	if repo.Owner == "" || repo.RepoName == "" {
		return nil, &custom_errors.ConfigError{Field: "owner/repo_name", Reason: "repository owner/repo_name not configured"}
	}

	token, err := s.creds.Get(ctx, credentials.ScopeGithubToken)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	if token == "" {
		return nil, &custom_errors.ConfigError{Field: credentials.ScopeGithubToken, Reason: "no GitHub token configured"}
	}

	client, err := s.newClient(token)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &target{
		repo:   repo,
		client: client,
		logger: s.logger.With("repo_id", repo.ID, "owner", repo.Owner, "repo", repo.RepoName),
	}, nil
}

// SyncRepositoryMetadata returns the repository snapshot, refreshing it when the stored
// copy is older than the metadata TTL or force is set. A failed refresh degrades to the
// stored copy unless the failure is a configuration, authentication or not-found error.
func (s *Syncer) SyncRepositoryMetadata(ctx context.Context, repoID string, force bool) (model.RepositoryMetadata, error) {
	if !force {
		if m, ok := s.metaCache.Get(repoID); ok {
			s.logger.Debug("Metadata cache hit", "repo_id", repoID)
			return m, nil
		}
	}

	m, err := resolve(ctx, s.reconciler.Now(), s.cfg.MetadataTTL, force,
		func(ctx context.Context) (model.RepositoryMetadata, time.Time, bool, error) {
			stored, err := s.store.GetRepositoryMetadata(ctx, repoID)
			if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrCorrupt) {
				return model.RepositoryMetadata{}, time.Time{}, false, nil
			}
			if err != nil {
				return model.RepositoryMetadata{}, time.Time{}, false, err
			}
			return stored, stored.LastSynced, true, nil
		},
		func(ctx context.Context) (model.RepositoryMetadata, error) {
			return s.refreshMetadata(ctx, repoID)
		},
		s.logger.With("repo_id", repoID, "kind", "metadata"),
	)
	if err != nil {
		return model.RepositoryMetadata{}, err
	}
	s.metaCache.Set(repoID, m)
	return m, nil
}

func (s *Syncer) refreshMetadata(ctx context.Context, repoID string) (model.RepositoryMetadata, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return model.RepositoryMetadata{}, err
	}
	fetched, err := t.client.GetRepositoryMetadata(ctx, t.repo.Owner, t.repo.RepoName)
	if err != nil {
		return model.RepositoryMetadata{}, err
	}
	m, err := s.reconciler.Metadata(ctx, repoID, *fetched)
	if err != nil {
		return model.RepositoryMetadata{}, err
	}
	t.logger.Info("Repository metadata synced", "stars", m.StarsCount, "open_issues", m.OpenIssuesCount)
	return m, nil
}

// SyncBranches fetches and reconciles branches.
func (s *Syncer) SyncBranches(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListBranches(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.Branches(ctx, repoID, items), nil
}

// SyncCommits fetches and reconciles recent commits, bounded by the configured limit.
func (s *Syncer) SyncCommits(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	if f.Limit <= 0 {
		f.Limit = s.cfg.CommitLimit
	}
	items, err := t.client.ListCommits(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.Commits(ctx, repoID, items), nil
}

// SyncIssues fetches and reconciles issues, then refreshes activity on every stored issue.
func (s *Syncer) SyncIssues(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListIssues(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	res := s.reconciler.Issues(ctx, repoID, items)
	if _, err := s.reconciler.RecomputeIssueActivity(ctx, repoID); err != nil {
		t.logger.Warn("Failed to refresh issue activity", "error", err)
	}
	return res, nil
}

// SyncPullRequests fetches and reconciles pull requests.
func (s *Syncer) SyncPullRequests(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListPullRequests(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.PullRequests(ctx, repoID, items), nil
}

// RefreshPullRequest fetches one pull request, reconciles it and returns the stored record.
func (s *Syncer) RefreshPullRequest(ctx context.Context, repoID string, number int) (model.PullRequest, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return model.PullRequest{}, err
	}
	pr, err := t.client.GetPullRequest(ctx, t.repo.Owner, t.repo.RepoName, number)
	if err != nil {
		return model.PullRequest{}, err
	}
	if res := s.reconciler.PullRequests(ctx, repoID, []model.PullRequest{*pr}); res.Failed > 0 {
		return model.PullRequest{}, fmt.Errorf("reconcile pull request #%d failed", number)
	}
	return s.store.GetPullRequest(ctx, repoID, number)
}

// SyncContributors fetches and reconciles contributors.
func (s *Syncer) SyncContributors(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListContributors(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.Contributors(ctx, repoID, items)
}

// SyncReleases fetches and reconciles releases.
func (s *Syncer) SyncReleases(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListReleases(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.Releases(ctx, repoID, items), nil
}

// SyncMilestones fetches and reconciles milestones.
func (s *Syncer) SyncMilestones(ctx context.Context, repoID string, f github.Filter) (reconcile.Result, error) {
	t, err := s.prepare(ctx, repoID)
	if err != nil {
		return reconcile.Result{}, err
	}
	items, err := t.client.ListMilestones(ctx, t.repo.Owner, t.repo.RepoName, f)
	if err != nil {
		return reconcile.Result{}, err
	}
	return s.reconciler.Milestones(ctx, repoID, items), nil
}

// FullSync runs every entity sync in order and records the outcome in the activity feed.
// A failure is recorded first and then returned.
func (s *Syncer) FullSync(ctx context.Context, repoID string) error {
	logger := s.logger.With("repo_id", repoID)
	logger.Info("Starting full sync")
	started := time.Now()

	var total reconcile.Result
	add := func(res reconcile.Result, err error) error {
		total.Inserted += res.Inserted
		total.Updated += res.Updated
		total.Failed += res.Failed
		return err
	}
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"metadata", func(ctx context.Context) error {
			// No stored-copy fallback here: a failed fetch fails the sync.
			m, err := s.refreshMetadata(ctx, repoID)
			if err != nil {
				return err
			}
			s.metaCache.Set(repoID, m)
			return nil
		}},
		{"branches", func(ctx context.Context) error { return add(s.SyncBranches(ctx, repoID, github.Filter{})) }},
		{"commits", func(ctx context.Context) error {
			return add(s.SyncCommits(ctx, repoID, github.Filter{WithStats: true}))
		}},
		{"issues", func(ctx context.Context) error { return add(s.SyncIssues(ctx, repoID, github.Filter{})) }},
		{"pull_requests", func(ctx context.Context) error { return add(s.SyncPullRequests(ctx, repoID, github.Filter{})) }},
		{"contributors", func(ctx context.Context) error { return add(s.SyncContributors(ctx, repoID, github.Filter{})) }},
		{"releases", func(ctx context.Context) error { return add(s.SyncReleases(ctx, repoID, github.Filter{})) }},
		{"milestones", func(ctx context.Context) error { return add(s.SyncMilestones(ctx, repoID, github.Filter{})) }},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			err = fmt.Errorf("sync %s: %w", step.name, err)
			logger.Error("Full sync failed", "step", step.name, "error", err)
			desc := err.Error()
			s.recordActivity(ctx, model.Activity{
				RepoID:      repoID,
				EventType:   model.ActivitySyncFailed,
				Title:       "Repository sync failed",
				Description: &desc,
				Metadata:    map[string]any{"step": step.name, "error": desc},
			})
			return err
		}
	}

	elapsed := time.Since(started)
	logger.Info("Full sync finished", "duration", elapsed.String(), "inserted", total.Inserted, "updated", total.Updated, "failed", total.Failed)
	s.recordActivity(ctx, model.Activity{
		RepoID:    repoID,
		EventType: model.ActivitySyncCompleted,
		Title:     "Repository sync completed",
		Metadata: map[string]any{
			"inserted":    total.Inserted,
			"updated":     total.Updated,
			"failed":      total.Failed,
			"duration_ms": elapsed.Milliseconds(),
		},
	})
	return nil
}

func (s *Syncer) recordActivity(ctx context.Context, a model.Activity) {
	a.ID = uuid.NewString()
	a.ActorLogin = systemActor
	a.OccurredAt = s.reconciler.Now()
	// The outcome must be recorded even when the sync's own context was cancelled.
	if err := s.store.InsertActivity(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Error("Failed to record activity", "repo_id", a.RepoID, "event_type", a.EventType, "error", err)
	}
}

// TriggerFullSync checks preconditions, then runs a full sync in the background.
// The outcome is only observable through the activity feed.
func (s *Syncer) TriggerFullSync(ctx context.Context, repoID string) error {
	if _, err := s.prepare(ctx, repoID); err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.FullSync(bg, repoID); err != nil {
			s.logger.Error("Background sync failed", "repo_id", repoID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every background sync has finished.
func (s *Syncer) Wait() {
	s.background.Wait()
}

// Start begins the continuous synchronization process.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.cfg.Interval.String(), "concurrency", s.cfg.Concurrency)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle performs a full sync for every selected repository concurrently.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	repos, err := s.reposForCycle(ctx)
	if err != nil {
		s.logger.Error("Failed to list repositories", "error", err)
		return
	}
	s.logger.Info("Starting new sync cycle", "repos", len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, repo := range repos {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := s.FullSync(gctx, repo.ID); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync repository", "repo_id", repo.ID, "owner", repo.Owner, "repo", repo.RepoName, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("Sync cycle finished")
}

func (s *Syncer) reposForCycle(ctx context.Context) ([]model.Repo, error) {
	tracked, err := s.store.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	if len(s.selected) == 0 {
		return tracked, nil
	}

	byName := make(map[string]model.Repo, len(tracked))
	for _, r := range tracked {
		byName[strings.ToLower(r.FullName())] = r
	}
	out := make([]model.Repo, 0, len(s.selected))
	for _, id := range s.selected {
		r, ok := byName[strings.ToLower(id.String())]
		if !ok {
			s.logger.Warn("Configured repository is not tracked", "repo", id.String())
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		parts := strings.Split(strings.TrimSpace(r), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &custom_errors.ErrInvalidRepoFormat{Repo: r}
		}
		identifiers = append(identifiers, RepoIdentifier{Owner: parts[0], Name: parts[1]})
	}
	return identifiers, nil
}

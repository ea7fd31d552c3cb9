// internal/database/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

// Store is an in-process implementation of database.Querier.
type Store struct {
	mu sync.RWMutex

	repos    map[string]model.Repo
	users    map[string]model.User
	settings model.AppSettings

	metadata     map[string]model.RepositoryMetadata
	branches     map[string]model.Branch
	commits      map[string]model.Commit
	issues       map[string]model.Issue
	pullRequests map[string]model.PullRequest
	contributors map[string]model.Contributor
	releases     map[string]model.Release
	milestones   map[string]model.Milestone

	activities   []model.Activity
	xpEvents     []model.XPEvent
	xpConfig     *model.XPConfiguration
	leaderboards []model.XPLeaderboard
}

var _ database.Querier = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		repos:        make(map[string]model.Repo),
		users:        make(map[string]model.User),
		metadata:     make(map[string]model.RepositoryMetadata),
		branches:     make(map[string]model.Branch),
		commits:      make(map[string]model.Commit),
		issues:       make(map[string]model.Issue),
		pullRequests: make(map[string]model.PullRequest),
		contributors: make(map[string]model.Contributor),
		releases:     make(map[string]model.Release),
		milestones:   make(map[string]model.Milestone),
	}
}

func key(repoID string, natural any) string {
	return fmt.Sprintf("%s\x00%v", repoID, natural)
}

func get[T any](s *Store, m map[string]T, k string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := m[k]
	if !ok {
		var zero T
		return zero, database.ErrNotFound
	}
	return v, nil
}

func put[T any](s *Store, m map[string]T, k string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[k] = v
}

func list[T any](s *Store, m map[string]T, keep func(T) bool, less func(a, b T) int, limit int) []T {
	s.mu.RLock()
	out := make([]T, 0, len(m))
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, less)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PutRepo registers a tracked repository.
func (s *Store) PutRepo(r model.Repo) { put(s, s.repos, r.ID, r) }

// PutUser registers a user.
func (s *Store) PutUser(u model.User) { put(s, s.users, u.ID, u) }

// PutAppSettings replaces the settings singleton.
func (s *Store) PutAppSettings(a model.AppSettings) {
	s.mu.Lock()
	s.settings = a
	s.mu.Unlock()
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) GetRepo(_ context.Context, id string) (model.Repo, error) {
	return get(s, s.repos, id)
}

func (s *Store) ListRepos(context.Context) ([]model.Repo, error) {
	return list(s, s.repos, func(model.Repo) bool { return true },
		func(a, b model.Repo) int { return strings.Compare(a.ID, b.ID) }, 0), nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	return get(s, s.users, id)
}

func (s *Store) GetUserByGithubUsername(_ context.Context, login string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.GithubUsername != "" && strings.EqualFold(u.GithubUsername, login) {
			return u, nil
		}
	}
	return model.User{}, database.ErrNotFound
}

func (s *Store) ListUsers(context.Context) ([]model.User, error) {
	return list(s, s.users, func(model.User) bool { return true },
		func(a, b model.User) int { return strings.Compare(a.ID, b.ID) }, 0), nil
}

func (s *Store) GetAppSettings(context.Context) (model.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) GetRepositoryMetadata(_ context.Context, repoID string) (model.RepositoryMetadata, error) {
	return get(s, s.metadata, repoID)
}

func (s *Store) SaveRepositoryMetadata(_ context.Context, m model.RepositoryMetadata) error {
	put(s, s.metadata, m.RepoID, m)
	return nil
}

func (s *Store) DeleteRepositoryMetadata(_ context.Context, repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, repoID)
	return nil
}

func (s *Store) GetBranch(_ context.Context, repoID, name string) (model.Branch, error) {
	return get(s, s.branches, key(repoID, name))
}

func (s *Store) SaveBranch(_ context.Context, b model.Branch) error {
	put(s, s.branches, key(b.RepoID, b.Name), b)
	return nil
}

func (s *Store) ListBranches(_ context.Context, repoID string, f database.ListFilter) ([]model.Branch, error) {
	return list(s, s.branches,
		func(b model.Branch) bool { return b.RepoID == repoID },
		func(a, b model.Branch) int { return strings.Compare(a.Name, b.Name) },
		f.Limit), nil
}

func (s *Store) GetCommit(_ context.Context, repoID, sha string) (model.Commit, error) {
	return get(s, s.commits, key(repoID, sha))
}

func (s *Store) SaveCommit(_ context.Context, c model.Commit) error {
	put(s, s.commits, key(c.RepoID, c.SHA), c)
	return nil
}

func (s *Store) ListCommits(_ context.Context, repoID string, f database.ListFilter) ([]model.Commit, error) {
	return list(s, s.commits,
		func(c model.Commit) bool {
			return c.RepoID == repoID &&
				(f.Author == "" || (c.AuthorLogin != nil && *c.AuthorLogin == f.Author)) &&
				(f.Branch == "" || (c.Branch != nil && *c.Branch == f.Branch)) &&
				(f.Since == nil || !c.CommitDate.Before(*f.Since))
		},
		func(a, b model.Commit) int { return b.CommitDate.Compare(a.CommitDate) },
		f.Limit), nil
}

func (s *Store) GetIssue(_ context.Context, repoID string, number int) (model.Issue, error) {
	return get(s, s.issues, key(repoID, number))
}

func (s *Store) SaveIssue(_ context.Context, i model.Issue) error {
	put(s, s.issues, key(i.RepoID, i.Number), i)
	return nil
}

func (s *Store) ListIssues(_ context.Context, repoID string, f database.ListFilter) ([]model.Issue, error) {
	return list(s, s.issues,
		func(i model.Issue) bool {
			return i.RepoID == repoID &&
				(f.State == "" || string(i.State) == f.State) &&
				(f.Author == "" || i.AuthorLogin == f.Author) &&
				(f.Label == "" || i.HasLabel(f.Label)) &&
				matchMilestone(f.MilestoneID, i.MilestoneID) &&
				(f.Since == nil || !i.UpdatedAt.Before(*f.Since))
		},
		func(a, b model.Issue) int { return b.UpdatedAt.Compare(a.UpdatedAt) },
		f.Limit), nil
}

func (s *Store) GetPullRequest(_ context.Context, repoID string, number int) (model.PullRequest, error) {
	return get(s, s.pullRequests, key(repoID, number))
}

func (s *Store) SavePullRequest(_ context.Context, pr model.PullRequest) error {
	put(s, s.pullRequests, key(pr.RepoID, pr.Number), pr)
	return nil
}

func (s *Store) ListPullRequests(_ context.Context, repoID string, f database.ListFilter) ([]model.PullRequest, error) {
	return list(s, s.pullRequests,
		func(pr model.PullRequest) bool {
			return pr.RepoID == repoID &&
				(f.State == "" || string(pr.State) == f.State) &&
				(f.Author == "" || pr.AuthorLogin == f.Author) &&
				(f.Label == "" || slices.Contains(pr.Labels, f.Label)) &&
				matchMilestone(f.MilestoneID, pr.MilestoneID) &&
				(f.Since == nil || !pr.UpdatedAt.Before(*f.Since))
		},
		func(a, b model.PullRequest) int { return b.UpdatedAt.Compare(a.UpdatedAt) },
		f.Limit), nil
}

func (s *Store) GetContributor(_ context.Context, repoID, login string) (model.Contributor, error) {
	return get(s, s.contributors, key(repoID, login))
}

func (s *Store) SaveContributor(_ context.Context, c model.Contributor) error {
	k := key(c.RepoID, c.Login)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.contributors[k]; ok {
		c.UserID, c.TotalXPEarned = existing.UserID, existing.TotalXPEarned
	}
	s.contributors[k] = c
	return nil
}

func (s *Store) CreditContributor(_ context.Context, repoID, login, userID string, amount int) error {
	k := key(repoID, login)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributors[k]
	if !ok {
		return database.ErrNotFound
	}
	c.UserID = &userID
	c.TotalXPEarned += amount
	s.contributors[k] = c
	return nil
}

func (s *Store) ListContributors(_ context.Context, repoID string, f database.ListFilter) ([]model.Contributor, error) {
	return list(s, s.contributors,
		func(c model.Contributor) bool { return c.RepoID == repoID },
		func(a, b model.Contributor) int {
			if a.CommitsCount != b.CommitsCount {
				return b.CommitsCount - a.CommitsCount
			}
			return strings.Compare(a.Login, b.Login)
		},
		f.Limit), nil
}

func (s *Store) GetRelease(_ context.Context, repoID string, githubID int64) (model.Release, error) {
	return get(s, s.releases, key(repoID, githubID))
}

func (s *Store) SaveRelease(_ context.Context, r model.Release) error {
	put(s, s.releases, key(r.RepoID, r.GithubID), r)
	return nil
}

func (s *Store) ListReleases(_ context.Context, repoID string, f database.ListFilter) ([]model.Release, error) {
	return list(s, s.releases,
		func(r model.Release) bool { return r.RepoID == repoID },
		func(a, b model.Release) int { return b.CreatedAt.Compare(a.CreatedAt) },
		f.Limit), nil
}

func (s *Store) GetMilestone(_ context.Context, repoID string, number int) (model.Milestone, error) {
	return get(s, s.milestones, key(repoID, number))
}

func (s *Store) SaveMilestone(_ context.Context, m model.Milestone) error {
	put(s, s.milestones, key(m.RepoID, m.Number), m)
	return nil
}

func (s *Store) ListMilestones(_ context.Context, repoID string, f database.ListFilter) ([]model.Milestone, error) {
	return list(s, s.milestones,
		func(m model.Milestone) bool {
			return m.RepoID == repoID && (f.State == "" || m.State == f.State)
		},
		func(a, b model.Milestone) int { return a.Number - b.Number },
		f.Limit), nil
}

func (s *Store) InsertActivity(_ context.Context, a model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	return nil
}

func (s *Store) ListActivities(_ context.Context, repoID string, f database.ListFilter) ([]model.Activity, error) {
	s.mu.RLock()
	var out []model.Activity
	for _, a := range s.activities {
		if a.RepoID == repoID && (f.Since == nil || !a.OccurredAt.Before(*f.Since)) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) InsertXPEvent(_ context.Context, e model.XPEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xpEvents = append(s.xpEvents, e)
	return nil
}

func matchXP(e model.XPEvent, f database.XPEventFilter) bool {
	return (f.UserID == "" || e.UserID == f.UserID) &&
		(f.Source == "" || e.Source == f.Source) &&
		(f.Since == nil || !e.CreatedAt.Before(*f.Since)) &&
		(f.Until == nil || e.CreatedAt.Before(*f.Until))
}

func (s *Store) ListXPEvents(_ context.Context, f database.XPEventFilter) ([]model.XPEvent, error) {
	s.mu.RLock()
	var out []model.XPEvent
	for _, e := range s.xpEvents {
		if matchXP(e, f) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if f.Desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) SumXP(_ context.Context, f database.XPEventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.xpEvents {
		if matchXP(e, f) {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *Store) XPTotals(_ context.Context, since, until time.Time) ([]database.UserXPTotal, error) {
	s.mu.RLock()
	byUser := make(map[string]*database.UserXPTotal)
	var order []string
	for _, e := range s.xpEvents {
		if e.CreatedAt.Before(since) || !e.CreatedAt.Before(until) {
			continue
		}
		t, ok := byUser[e.UserID]
		if !ok {
			t = &database.UserXPTotal{UserID: e.UserID, Sources: make(map[string]int)}
			byUser[e.UserID] = t
			order = append(order, e.UserID)
		}
		t.Total += e.Amount
		t.EventCount++
		t.Sources[string(e.Source)] += e.Amount
	}
	s.mu.RUnlock()

	out := make([]database.UserXPTotal, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	return out, nil
}

func (s *Store) GetXPConfiguration(context.Context) (model.XPConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.xpConfig == nil {
		return model.XPConfiguration{}, database.ErrNotFound
	}
	return *s.xpConfig, nil
}

func (s *Store) SaveXPConfiguration(_ context.Context, cfg model.XPConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xpConfig = &cfg
	return nil
}

func (s *Store) InsertLeaderboard(_ context.Context, lb model.XPLeaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboards = append(s.leaderboards, lb)
	return nil
}

// Leaderboards returns every stored snapshot in insertion order.
func (s *Store) Leaderboards() []model.XPLeaderboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.leaderboards)
}

func matchMilestone(want, have *int) bool {
	if want == nil {
		return true
	}
	return have != nil && *have == *want
}

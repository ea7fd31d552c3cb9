// internal/xp/engine.go
package xp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

const (
	day = 24 * time.Hour

	// maxStreakDays bounds the backward scan, today included.
	maxStreakDays = 30

	largeCommitLines   = 100
	largePRLines       = 500
	largePRBonus       = 2
	quickMergeMinutes  = 1440
	multiApprovalCount = 2
	quickResolution    = 24 * time.Hour
	lintScoreThreshold = 90
	lintMultiplier     = 1.1
)

var highPriorityLabels = []string{"high-priority", "critical"}

// Store is what the engine needs besides the ledger: the user directory, repository
// tags and contributor records for XP linkage.
type Store interface {
	database.UserStore
	database.RepoStore
	CreditContributor(ctx context.Context, repoID, login, userID string, amount int) error
}

// Quality carries optional code-quality signals for a merged pull request.
type Quality struct {
	TestCoverage *float64
	LintScore    *float64
}

// Engine turns concrete repository actions into XP ledger events.
type Engine struct {
	ledger *Ledger
	store  Store
	cfg    model.XPConfiguration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the XP store. cfg is fixed for the engine's lifetime.
func NewEngine(xpStore database.XPStore, store Store, cfg model.XPConfiguration, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = NewLedger(xpStore, e.clock)
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Configuration returns the scoring configuration in use.
func (e *Engine) Configuration() model.XPConfiguration { return e.cfg }

type bonus struct {
	amount int
	reason string
}

// award describes one action before user-specific bonuses are applied.
type award struct {
	source  model.XPSource
	base    int
	bonuses []bonus
	ref     string
	path    string
	streak  bool
}

func (a award) subtotal() int {
	n := a.base
	for _, b := range a.bonuses {
		n += b.amount
	}
	return n
}

// AwardCommit awards XP for a pushed commit.
func (e *Engine) AwardCommit(ctx context.Context, login string, c model.Commit, repoID string) (*model.XPEvent, error) {
	a := award{
		source: model.SourceCommit,
		base:   e.cfg.Base.Commit,
		ref:    shortSHA(c.SHA),
		path:   "commit/" + c.SHA,
		streak: true,
	}
	if c.TotalChanges > largeCommitLines {
		a.bonuses = append(a.bonuses, bonus{1, "large commit"})
	}
	return e.awardOne(ctx, login, repoID, a)
}

// AwardPRMerged awards XP for a merged pull request. q may be nil.
func (e *Engine) AwardPRMerged(ctx context.Context, login string, pr model.PullRequest, repoID string, q *Quality) (*model.XPEvent, error) {
	a := award{
		source: model.SourcePRMerged,
		base:   e.cfg.Base.PRMerged,
		ref:    fmt.Sprintf("#%d", pr.Number),
		path:   fmt.Sprintf("pull/%d", pr.Number),
		streak: true,
	}
	if pr.Additions+pr.Deletions > largePRLines {
		a.bonuses = append(a.bonuses, bonus{largePRBonus, "large PR"})
	}
	if pr.TimeToMerge != nil && *pr.TimeToMerge < quickMergeMinutes {
		a.bonuses = append(a.bonuses, bonus{e.cfg.Base.EarlyDelivery, "quick merge"})
	}
	if pr.ApprovedCount >= multiApprovalCount {
		a.bonuses = append(a.bonuses, bonus{1, "multiple approvals"})
	}
	if extra := e.qualityBonus(a.subtotal(), q); extra > 0 {
		a.bonuses = append(a.bonuses, bonus{extra, "code quality"})
	}
	return e.awardOne(ctx, login, repoID, a)
}

// AwardIssueClosed awards XP for closing an issue.
func (e *Engine) AwardIssueClosed(ctx context.Context, login string, issue model.Issue, repoID string) (*model.XPEvent, error) {
	a := award{
		source: model.SourceIssueClosed,
		base:   e.cfg.Base.IssueClosed,
		ref:    fmt.Sprintf("#%d", issue.Number),
		path:   fmt.Sprintf("issues/%d", issue.Number),
		streak: true,
	}
	if issue.HasLabel(highPriorityLabels...) {
		a.bonuses = append(a.bonuses, bonus{e.cfg.Base.HighPriority, "high priority"})
	}
	if issue.ClosedAt != nil && !issue.CreatedAt.IsZero() && issue.ClosedAt.Sub(issue.CreatedAt) < quickResolution {
		a.bonuses = append(a.bonuses, bonus{1, "quick resolution"})
	}
	return e.awardOne(ctx, login, repoID, a)
}

// AwardCodeReview awards XP for reviewing a pull request.
func (e *Engine) AwardCodeReview(ctx context.Context, login string, prNumber int, repoID string) (*model.XPEvent, error) {
	return e.awardOne(ctx, login, repoID, award{
		source: model.SourceCodeReview,
		base:   e.cfg.Base.CodeReview,
		ref:    fmt.Sprintf("#%d", prNumber),
		path:   fmt.Sprintf("pull/%d", prNumber),
		streak: true,
	})
}

// AwardRelease awards XP for publishing a release.
func (e *Engine) AwardRelease(ctx context.Context, login string, r model.Release, repoID string) (*model.XPEvent, error) {
	return e.awardOne(ctx, login, repoID, award{
		source: model.SourceReleasePublished,
		base:   e.cfg.Base.ReleasePublished,
		ref:    r.TagName,
		path:   "releases/tag/" + r.TagName,
		streak: true,
	})
}

// AwardMilestone awards the same amount to every contributor of a completed milestone,
// one event each. Unknown logins are skipped.
func (e *Engine) AwardMilestone(ctx context.Context, logins []string, m model.Milestone, repoID string) ([]model.XPEvent, error) {
	a := award{
		source: model.SourceMilestoneCompleted,
		base:   e.cfg.Base.MilestoneCompleted,
		ref:    fmt.Sprintf("Milestone #%d", m.Number),
		path:   fmt.Sprintf("milestone/%d", m.Number),
	}
	if m.DueOn != nil && m.ClosedAt != nil && m.ClosedAt.Before(*m.DueOn) {
		a.bonuses = append(a.bonuses, bonus{e.cfg.Base.EarlyDelivery, "early completion"})
	}

	seen := make(map[string]bool, len(logins))
	var events []model.XPEvent
	for _, login := range logins {
		key := strings.ToLower(login)
		if login == "" || seen[key] {
			continue
		}
		seen[key] = true
		ev, err := e.awardOne(ctx, login, repoID, a)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

// awardOne resolves the user, composes the event and appends it. An unknown login
// yields (nil, nil).
func (e *Engine) awardOne(ctx context.Context, login, repoID string, a award) (*model.XPEvent, error) {
	logger := e.logger.With("login", login, "source", a.source, "repo_id", repoID)

	user, ok, err := e.resolveUser(ctx, login)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Debug("No user for login, skipping award")
		return nil, nil
	}

	repo := e.repo(ctx, repoID)
	ev := model.XPEvent{
		UserID:            user.ID,
		GithubUsername:    nonEmpty(user.GithubUsername),
		Source:            a.source,
		SkillDistribution: skillDistribution(repo),
		ReferenceID:       nonEmpty(a.ref),
	}
	if repoID != "" {
		ev.RepoID = &repoID
	}
	if repo != nil && repo.Owner != "" && repo.RepoName != "" && a.path != "" {
		url := fmt.Sprintf("https://github.com/%s/%s", repo.FullName(), a.path)
		ev.ReferenceURL = &url
	}

	amount, bonusTotal := a.base, 0
	var reasons []string
	for _, b := range a.bonuses {
		bonusTotal += b.amount
		reasons = append(reasons, b.reason)
	}
	if a.streak {
		days, extra, err := e.streakBonus(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if extra > 0 {
			bonusTotal += extra
			reasons = append(reasons, fmt.Sprintf("streak day %d", days))
		}
		if days > 1 {
			ev.StreakDay = &days
		}
	}
	ev.Amount = amount + bonusTotal
	ev.IsBonus = bonusTotal > 0
	if len(reasons) > 0 {
		r := strings.Join(reasons, ", ")
		ev.BonusReason = &r
	}

	saved, err := e.ledger.Append(ctx, ev)
	if err != nil {
		return nil, err
	}
	logger.Info("XP awarded", "user_id", user.ID, "amount", saved.Amount, "bonus_reason", saved.BonusReason)
	e.creditContributor(ctx, repoID, login, user.ID, saved.Amount)
	return &saved, nil
}

func (e *Engine) resolveUser(ctx context.Context, login string) (model.User, bool, error) {
	if login == "" {
		return model.User{}, false, nil
	}
	user, err := e.store.GetUserByGithubUsername(ctx, login)
	if errors.Is(err, database.ErrNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("resolve user %q: %w", login, err)
	}
	return user, true, nil
}

// repo returns the repository for tags and links, or nil when it cannot be read.
func (e *Engine) repo(ctx context.Context, repoID string) *model.Repo {
	if repoID == "" {
		return nil
	}
	r, err := e.store.GetRepo(ctx, repoID)
	if err != nil {
		e.logger.Warn("Failed to load repository for award", "repo_id", repoID, "error", err)
		return nil
	}
	return &r
}

// creditContributor links the contributor record to the user and accumulates its XP.
func (e *Engine) creditContributor(ctx context.Context, repoID, login, userID string, amount int) {
	if repoID == "" {
		return
	}
	err := e.store.CreditContributor(ctx, repoID, login, userID, amount)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		e.logger.Warn("Failed to update contributor XP", "repo_id", repoID, "login", login, "error", err)
	}
}

func (e *Engine) qualityBonus(subtotal int, q *Quality) int {
	if !e.cfg.Quality.Enabled || q == nil {
		return 0
	}
	mult := 1.0
	switch {
	case q.TestCoverage != nil && *q.TestCoverage >= e.cfg.Quality.CoverageThreshold:
		mult = e.cfg.Quality.CoverageMultiplier
	case q.LintScore != nil && *q.LintScore >= lintScoreThreshold:
		mult = lintMultiplier
	}
	return int(math.Floor(float64(subtotal)*mult)) - subtotal
}

// Streak counts the user's unbroken run of active UTC days. It is zero unless the user
// earned XP within the last 24 hours; otherwise it is one plus the number of consecutive
// days with activity going back from yesterday. Decay events are not activity.
func (e *Engine) Streak(ctx context.Context, userID string) (int, error) {
	now := e.clock()
	today := startOfDay(now)
	events, err := e.ledger.Since(ctx, userID, today.AddDate(0, 0, -(maxStreakDays-1)))
	if err != nil {
		return 0, fmt.Errorf("streak events: %w", err)
	}

	active := make(map[time.Time]bool)
	recent := false
	for _, ev := range events {
		if ev.Source == model.SourceDecay {
			continue
		}
		active[startOfDay(ev.CreatedAt)] = true
		if !ev.CreatedAt.Before(now.Add(-day)) {
			recent = true
		}
	}
	if !recent {
		return 0, nil
	}

	streak := 1
	for i := 1; i < maxStreakDays; i++ {
		if !active[today.AddDate(0, 0, -i)] {
			break
		}
		streak++
	}
	return streak, nil
}

func (e *Engine) streakBonus(ctx context.Context, userID string) (int, int, error) {
	if !e.cfg.Streak.Enabled {
		return 0, 0, nil
	}
	days, err := e.Streak(ctx, userID)
	if err != nil || days == 0 || days < e.cfg.Streak.ThresholdDays {
		return days, 0, err
	}
	return days, min(days*e.cfg.Streak.BonusPerDay, e.cfg.Streak.MaxBonus), nil
}

// ApplyDecay appends a negative event for a user who has been inactive for at least the
// configured number of days. The amount is floor(total × percentage), clamped so the
// total never drops below the configured floor. It returns nil when nothing decays.
func (e *Engine) ApplyDecay(ctx context.Context, userID string) (*model.XPEvent, error) {
	d := e.cfg.Decay
	if !d.Enabled {
		return nil, nil
	}
	last, err := e.ledger.Latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest event: %w", err)
	}
	if last == nil {
		return nil, nil
	}

	inactive := int(e.clock().Sub(last.CreatedAt) / day)
	if inactive < d.DaysInactive {
		return nil, nil
	}

	total, err := e.ledger.Total(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("total xp: %w", err)
	}
	amount := min(int(math.Floor(float64(total)*d.Percentage)), total-d.MinXP)
	if amount <= 0 {
		return nil, nil
	}

	reason := fmt.Sprintf("Inactive for %d days", inactive)
	ev := model.XPEvent{
		UserID: userID,
		Source: model.SourceDecay,
		Amount: -amount,
		Reason: &reason,
	}
	if u, err := e.store.GetUser(ctx, userID); err == nil {
		ev.GithubUsername = nonEmpty(u.GithubUsername)
	}
	saved, err := e.ledger.Append(ctx, ev)
	if err != nil {
		return nil, err
	}
	e.logger.Info("XP decayed", "user_id", userID, "amount", saved.Amount, "days_inactive", inactive)
	return &saved, nil
}

// ApplyDecayAll applies decay to every known user and returns how many decayed.
// A failure for one user does not stop the others.
func (e *Engine) ApplyDecayAll(ctx context.Context) (int, error) {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	var (
		decayed int
		errs    []error
	)
	for _, u := range users {
		ev, err := e.ApplyDecay(ctx, u.ID)
		if err != nil {
			e.logger.Error("Failed to apply decay", "user_id", u.ID, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		if ev != nil {
			decayed++
		}
	}
	return decayed, errors.Join(errs...)
}

// SkillBreakdown sums amount × weight per skill tag over the user's lifetime events.
func (e *Engine) SkillBreakdown(ctx context.Context, userID string) (map[string]float64, error) {
	events, err := e.ledger.All(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, ev := range events {
		for skill, w := range ev.SkillDistribution {
			out[skill] += float64(ev.Amount) * w
		}
	}
	return out, nil
}

func skillDistribution(repo *model.Repo) map[string]float64 {
	if repo == nil || len(repo.Tags) == 0 {
		return nil
	}
	w := 1.0 / float64(len(repo.Tags))
	out := make(map[string]float64, len(repo.Tags))
	for _, t := range repo.Tags {
		out[t] += w
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

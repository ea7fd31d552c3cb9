// internal/api/handler.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-insights/internal/database"
	"github-insights/internal/model"
	"github-insights/internal/webhook"
)

const (
	defaultLeaderboardLimit = 10
	maxLimit                = 100
)

// Syncer is the repository data surface the API exposes.
type Syncer interface {
	SyncRepositoryMetadata(ctx context.Context, repoID string, force bool) (model.RepositoryMetadata, error)
	Branches(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Branch, error)
	Commits(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Commit, error)
	Issues(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Issue, error)
	PullRequests(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.PullRequest, error)
	Contributors(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Contributor, error)
	Releases(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Release, error)
	Milestones(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Milestone, error)
	ActivityFeed(ctx context.Context, repoID string, f database.ListFilter) ([]model.Activity, error)
	TriggerFullSync(ctx context.Context, repoID string) error
}

// Leaderboard ranks users by XP.
type Leaderboard interface {
	Generate(ctx context.Context, period string, limit int) (model.XPLeaderboard, error)
	UserStats(ctx context.Context, userID string) (model.UserXPStats, error)
}

// WebhookHandler ingests webhook deliveries.
type WebhookHandler interface {
	Handle(ctx context.Context, repoID string, r *http.Request) (webhook.Result, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	syncer      Syncer
	leaderboard Leaderboard
	hooks       WebhookHandler
	logger      *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(s Syncer, lb Leaderboard, hooks WebhookHandler, logger *slog.Logger) http.Handler {
	h := &Handler{
		syncer:      s,
		leaderboard: lb,
		hooks:       hooks,
		logger:      logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/repos/{repoID}", func(r chi.Router) {
			r.Get("/metadata", h.getMetadata)
			r.Get("/branches", listHandler(h, h.syncer.Branches))
			r.Get("/commits", listHandler(h, h.syncer.Commits))
			r.Get("/issues", listHandler(h, h.syncer.Issues))
			r.Get("/pull-requests", listHandler(h, h.syncer.PullRequests))
			r.Get("/contributors", listHandler(h, h.syncer.Contributors))
			r.Get("/releases", listHandler(h, h.syncer.Releases))
			r.Get("/milestones", listHandler(h, h.syncer.Milestones))
			r.Get("/activity", listHandler(h, func(ctx context.Context, repoID string, _ bool, f database.ListFilter) ([]model.Activity, error) {
				return h.syncer.ActivityFeed(ctx, repoID, f)
			}))
			r.Post("/sync", h.triggerSync)
		})
		r.Get("/xp/leaderboard", h.getLeaderboard)
		r.Get("/xp/users/{userID}/stats", h.getUserStats)
		r.Post("/webhooks/github/{repoID}", h.receiveWebhook)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getMetadata returns the repository snapshot.
// GET /v1/repos/{repoID}/metadata?refresh=true
func (h *Handler) getMetadata(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")
	refresh, err := parseBool(r, "refresh")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.syncer.SyncRepositoryMetadata(r.Context(), repoID, refresh)
	if err != nil {
		h.fail(w, r, "Failed to get repository metadata", err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// listHandler serves one entity listing with the shared filter and refresh parameters.
// GET /v1/repos/{repoID}/{entity}?refresh=&state=&author=&label=&branch=&milestone=&since=&limit=
func listHandler[T any](h *Handler, list func(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID := chi.URLParam(r, "repoID")
		refresh, err := parseBool(r, "refresh")
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		f, err := parseListFilter(r)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		items, err := list(r.Context(), repoID, refresh, f)
		if err != nil {
			h.fail(w, r, "Failed to list repository data", err)
			return
		}
		if items == nil {
			items = []T{}
		}
		respondWithJSON(w, http.StatusOK, items)
	}
}

// triggerSync starts a background full sync.
// POST /v1/repos/{repoID}/sync
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "repoID")
	if err := h.syncer.TriggerFullSync(r.Context(), repoID); err != nil {
		h.fail(w, r, "Failed to trigger sync", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "repo_id": repoID})
}

// getLeaderboard generates a leaderboard snapshot.
// GET /v1/xp/leaderboard?period=weekly&limit=N
func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = model.PeriodAllTime
	}
	limit, err := parseLimit(r, defaultLeaderboardLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	lb, err := h.leaderboard.Generate(r.Context(), period, limit)
	if err != nil {
		h.fail(w, r, "Failed to generate leaderboard", err)
		return
	}
	respondWithJSON(w, http.StatusOK, lb)
}

// getUserStats returns one user's XP standing.
// GET /v1/xp/users/{userID}/stats
func (h *Handler) getUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.leaderboard.UserStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, "Failed to get user stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// receiveWebhook ingests a GitHub webhook delivery for a tracked repository.
// POST /v1/webhooks/github/{repoID}
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	res, err := h.hooks.Handle(r.Context(), chi.URLParam(r, "repoID"), r)
	if err != nil {
		h.fail(w, r, "Failed to process webhook", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func parseBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badParam(name, "must be a boolean")
	}
	return b, nil
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 || limit > maxLimit {
		return 0, badParam("limit", "must be an integer between 1 and 100")
	}
	return limit, nil
}

func parseListFilter(r *http.Request) (database.ListFilter, error) {
	q := r.URL.Query()
	f := database.ListFilter{
		State:  q.Get("state"),
		Author: q.Get("author"),
		Label:  q.Get("label"),
		Branch: q.Get("branch"),
	}
	if v := q.Get("milestone"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, badParam("milestone", "must be an integer")
		}
		f.MilestoneID = &n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, badParam("since", "must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

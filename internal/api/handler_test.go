// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-insights/internal/database"
	custom_errors "github-insights/internal/errors"
	"github-insights/internal/github"
	"github-insights/internal/model"
	"github-insights/internal/webhook"
	"github-insights/internal/xp"
)

// MockSyncer is a mock implementation of the Syncer interface.
type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) SyncRepositoryMetadata(ctx context.Context, repoID string, force bool) (model.RepositoryMetadata, error) {
	args := m.Called(ctx, repoID, force)
	v, _ := args.Get(0).(model.RepositoryMetadata)
	return v, args.Error(1)
}

func (m *MockSyncer) Branches(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Branch, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Branch)
	return v, args.Error(1)
}

func (m *MockSyncer) Commits(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Commit, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Commit)
	return v, args.Error(1)
}

func (m *MockSyncer) Issues(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Issue, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Issue)
	return v, args.Error(1)
}

func (m *MockSyncer) PullRequests(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.PullRequest, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.PullRequest)
	return v, args.Error(1)
}

func (m *MockSyncer) Contributors(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Contributor, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Contributor)
	return v, args.Error(1)
}

func (m *MockSyncer) Releases(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Release, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Release)
	return v, args.Error(1)
}

func (m *MockSyncer) Milestones(ctx context.Context, repoID string, refresh bool, f database.ListFilter) ([]model.Milestone, error) {
	args := m.Called(ctx, repoID, refresh, f)
	v, _ := args.Get(0).([]model.Milestone)
	return v, args.Error(1)
}

func (m *MockSyncer) ActivityFeed(ctx context.Context, repoID string, f database.ListFilter) ([]model.Activity, error) {
	args := m.Called(ctx, repoID, f)
	v, _ := args.Get(0).([]model.Activity)
	return v, args.Error(1)
}

func (m *MockSyncer) TriggerFullSync(ctx context.Context, repoID string) error {
	return m.Called(ctx, repoID).Error(0)
}

// MockLeaderboard is a mock implementation of the Leaderboard interface.
type MockLeaderboard struct {
	mock.Mock
}

func (m *MockLeaderboard) Generate(ctx context.Context, period string, limit int) (model.XPLeaderboard, error) {
	args := m.Called(ctx, period, limit)
	v, _ := args.Get(0).(model.XPLeaderboard)
	return v, args.Error(1)
}

func (m *MockLeaderboard) UserStats(ctx context.Context, userID string) (model.UserXPStats, error) {
	args := m.Called(ctx, userID)
	v, _ := args.Get(0).(model.UserXPStats)
	return v, args.Error(1)
}

type stubHooks struct {
	res webhook.Result
	err error
}

func (s *stubHooks) Handle(context.Context, string, *http.Request) (webhook.Result, error) {
	return s.res, s.err
}

type testServer struct {
	syncer *MockSyncer
	lb     *MockLeaderboard
	hooks  *stubHooks
	router http.Handler
}

func newTestServer() *testServer {
	s := &testServer{syncer: new(MockSyncer), lb: new(MockLeaderboard), hooks: &stubHooks{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = NewRouter(s.syncer, s.lb, s.hooks, logger)
	return s
}

func (s *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer()
	rec := s.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetMetadata(t *testing.T) {
	t.Run("refresh flag is forwarded", func(t *testing.T) {
		s := newTestServer()
		s.syncer.On("SyncRepositoryMetadata", mock.Anything, "r1", true).
			Return(model.RepositoryMetadata{RepoID: "r1", FullName: "octo/widgets"}, nil)

		rec := s.do(http.MethodGet, "/v1/repos/r1/metadata?refresh=true")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"octo/widgets"`)
		s.syncer.AssertExpectations(t)
	})

	t.Run("bad refresh value", func(t *testing.T) {
		s := newTestServer()
		rec := s.do(http.MethodGet, "/v1/repos/r1/metadata?refresh=maybe")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		s.syncer.AssertNotCalled(t, "SyncRepositoryMetadata", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("error mapping", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			code int
		}{
			{"config", &custom_errors.ConfigError{Field: "github_pat", Reason: "missing"}, http.StatusBadRequest},
			{"not found", database.ErrNotFound, http.StatusNotFound},
			{"upstream not found", &custom_errors.UpstreamError{Op: "get", Kind: custom_errors.ErrNotFound}, http.StatusNotFound},
			{"other", errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				s := newTestServer()
				s.syncer.On("SyncRepositoryMetadata", mock.Anything, "r1", false).Return(nil, tc.err)
				rec := s.do(http.MethodGet, "/v1/repos/r1/metadata")
				assert.Equal(t, tc.code, rec.Code)
			})
		}
	})

	t.Run("server errors hide detail", func(t *testing.T) {
		s := newTestServer()
		s.syncer.On("SyncRepositoryMetadata", mock.Anything, "r1", false).Return(nil, errors.New("db password wrong"))
		rec := s.do(http.MethodGet, "/v1/repos/r1/metadata")
		assert.Equal(t, "Internal server error", decodeError(t, rec))
	})
}

func TestListEndpoints(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("filters are parsed", func(t *testing.T) {
		s := newTestServer()
		milestone := 3
		want := database.ListFilter{State: "open", Author: "ann", Label: "bug", MilestoneID: &milestone, Since: &since, Limit: 20}
		s.syncer.On("Issues", mock.Anything, "r1", true, want).
			Return([]model.Issue{{ID: "i1", Number: 1}}, nil)

		rec := s.do(http.MethodGet, "/v1/repos/r1/issues?refresh=1&state=open&author=ann&label=bug&milestone=3&since=2024-06-01T00:00:00Z&limit=20")
		require.Equal(t, http.StatusOK, rec.Code)

		var got []model.Issue
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 1)
		s.syncer.AssertExpectations(t)
	})

	t.Run("empty listing is an array", func(t *testing.T) {
		s := newTestServer()
		s.syncer.On("Branches", mock.Anything, "r1", false, database.ListFilter{}).Return(nil, nil)
		rec := s.do(http.MethodGet, "/v1/repos/r1/branches")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("every entity is routed", func(t *testing.T) {
		s := newTestServer()
		f := database.ListFilter{}
		s.syncer.On("Commits", mock.Anything, "r1", false, f).Return([]model.Commit{}, nil)
		s.syncer.On("PullRequests", mock.Anything, "r1", false, f).Return([]model.PullRequest{}, nil)
		s.syncer.On("Contributors", mock.Anything, "r1", false, f).Return([]model.Contributor{}, nil)
		s.syncer.On("Releases", mock.Anything, "r1", false, f).Return([]model.Release{}, nil)
		s.syncer.On("Milestones", mock.Anything, "r1", false, f).Return([]model.Milestone{}, nil)
		s.syncer.On("ActivityFeed", mock.Anything, "r1", f).Return([]model.Activity{}, nil)

		for _, path := range []string{"commits", "pull-requests", "contributors", "releases", "milestones", "activity"} {
			rec := s.do(http.MethodGet, "/v1/repos/r1/"+path)
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
		s.syncer.AssertExpectations(t)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		s := newTestServer()
		for _, q := range []string{"limit=0", "limit=101", "limit=abc", "milestone=x", "since=yesterday"} {
			rec := s.do(http.MethodGet, "/v1/repos/r1/commits?"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
		s.syncer.AssertNotCalled(t, "Commits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTriggerSync(t *testing.T) {
	s := newTestServer()
	s.syncer.On("TriggerFullSync", mock.Anything, "r1").Return(nil)
	s.syncer.On("TriggerFullSync", mock.Anything, "missing").Return(&custom_errors.ConfigError{Field: "repo_id", Reason: "not found"})

	rec := s.do(http.MethodPost, "/v1/repos/r1/sync")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted","repo_id":"r1"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/repos/missing/sync")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardEndpoints(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := newTestServer()
		s.lb.On("Generate", mock.Anything, model.PeriodAllTime, 10).
			Return(model.XPLeaderboard{Period: model.PeriodAllTime, TotalParticipants: 2}, nil)

		rec := s.do(http.MethodGet, "/v1/xp/leaderboard")
		assert.Equal(t, http.StatusOK, rec.Code)
		s.lb.AssertExpectations(t)
	})

	t.Run("unknown period", func(t *testing.T) {
		s := newTestServer()
		s.lb.On("Generate", mock.Anything, "hourly", 5).Return(nil, xp.ErrUnknownPeriod)
		rec := s.do(http.MethodGet, "/v1/xp/leaderboard?period=hourly&limit=5")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("user stats", func(t *testing.T) {
		s := newTestServer()
		s.lb.On("UserStats", mock.Anything, "u1").Return(model.UserXPStats{UserID: "u1", TotalXP: 40, Rank: 1}, nil)
		s.lb.On("UserStats", mock.Anything, "ghost").Return(nil, database.ErrNotFound)

		rec := s.do(http.MethodGet, "/v1/xp/users/u1/stats")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(http.MethodGet, "/v1/xp/users/ghost/stats")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReceiveWebhook(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"accepted", nil, http.StatusOK},
		{"bad signature", github.ErrInvalidSignature, http.StatusUnauthorized},
		{"malformed", github.ErrMalformedEvent, http.StatusBadRequest},
		{"unknown repo", database.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			s.hooks.res = webhook.Result{Event: "push", Actions: 2, Awarded: 1}
			s.hooks.err = tc.err

			rec := s.do(http.MethodPost, "/v1/webhooks/github/r1")
			assert.Equal(t, tc.code, rec.Code)
			if tc.err == nil {
				assert.JSONEq(t, `{"event":"push","actions":2,"awarded":1}`, rec.Body.String())
			}
		})
	}
}

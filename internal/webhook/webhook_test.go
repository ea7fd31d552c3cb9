// internal/webhook/webhook_test.go
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-insights/internal/credentials"
	"github-insights/internal/database"
	"github-insights/internal/database/memory"
	"github-insights/internal/github"
	"github-insights/internal/model"
	"github-insights/internal/xp"
)

const testSecret = "s3cret"

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type staticCreds map[string]string

func (c staticCreds) Get(_ context.Context, scope string) (string, error) { return c[scope], nil }

type stubRefresher struct {
	pr    model.PullRequest
	err   error
	calls int
}

func (s *stubRefresher) RefreshPullRequest(_ context.Context, _ string, number int) (model.PullRequest, error) {
	s.calls++
	if s.err != nil {
		return model.PullRequest{}, s.err
	}
	pr := s.pr
	pr.Number = number
	return pr, nil
}

type env struct {
	store     *memory.Store
	refresher *stubRefresher
	handler   *Handler
}

func newEnv(t *testing.T, creds staticCreds, repoSecret string) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{store: memory.New(), refresher: &stubRefresher{}}
	e.store.PutRepo(model.Repo{ID: "r1", Owner: "octo", RepoName: "widgets", WebhookSecret: repoSecret})
	e.store.PutUser(model.User{ID: "u1", GithubUsername: "ann"})
	e.store.PutUser(model.User{ID: "u2", GithubUsername: "bob"})

	engine := xp.NewEngine(e.store, e.store, model.DefaultXPConfiguration(), logger, xp.WithClock(func() time.Time { return fixedNow }))
	e.handler = NewHandler(e.store, e.refresher, engine, creds, logger)
	return e
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func delivery(event, body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/github/r1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", sign(body, secret))
	}
	return req
}

func events(t *testing.T, store *memory.Store, userID string) []model.XPEvent {
	t.Helper()
	out, err := store.ListXPEvents(context.Background(), database.XPEventFilter{UserID: userID})
	require.NoError(t, err)
	return out
}

const mergedPR = `{
  "action": "closed",
  "number": 7,
  "pull_request": {
    "number": 7,
    "state": "closed",
    "merged": true,
    "user": {"login": "ann"},
    "additions": 400,
    "deletions": 200,
    "created_at": "2024-06-15T00:00:00Z",
    "merged_at": "2024-06-15T08:00:00Z"
  }
}`

func TestPullRequestMerged(t *testing.T) {
	ctx := context.Background()

	t.Run("scores the refreshed pull request", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		e.refresher.pr = model.PullRequest{AuthorLogin: "ann", Merged: true, TimeToMerge: ptr(500), ApprovedCount: 3}

		res, err := e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, testSecret))
		require.NoError(t, err)
		assert.Equal(t, Result{Event: "pull_request", Actions: 1, Awarded: 1}, res)
		assert.Equal(t, 1, e.refresher.calls)

		got := events(t, e.store, "u1")
		require.Len(t, got, 1)
		assert.Equal(t, model.SourcePRMerged, got[0].Source)
		assert.Equal(t, 8, got[0].Amount)
		assert.Equal(t, "#7", *got[0].ReferenceID)
	})

	t.Run("falls back to the payload when refresh fails", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		e.refresher.err = errors.New("upstream down")

		_, err := e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, testSecret))
		require.NoError(t, err)
		got := events(t, e.store, "u1")
		require.Len(t, got, 1)
		assert.Equal(t, 7, got[0].Amount)
	})

	t.Run("closed without merge awards nothing", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		body := `{"action":"closed","pull_request":{"number":8,"merged":false,"user":{"login":"ann"}}}`

		res, err := e.handler.Handle(ctx, "r1", delivery("pull_request", body, testSecret))
		require.NoError(t, err)
		assert.Zero(t, res.Actions)
		assert.Zero(t, e.refresher.calls)
		assert.Empty(t, events(t, e.store, "u1"))
	})
}

func TestSignature(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong secret is rejected", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		_, err := e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, "wrong"))
		assert.ErrorIs(t, err, github.ErrInvalidSignature)
		assert.Empty(t, events(t, e.store, "u1"))
	})

	t.Run("settings secret is used when the repo has none", func(t *testing.T) {
		e := newEnv(t, staticCreds{credentials.ScopeWebhookSecret: "org-secret"}, "")
		_, err := e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, "org-secret"))
		require.NoError(t, err)

		_, err = e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, ""))
		assert.ErrorIs(t, err, github.ErrInvalidSignature)
	})

	t.Run("unsigned deliveries pass when no secret is configured", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, "")
		_, err := e.handler.Handle(ctx, "r1", delivery("pull_request", mergedPR, ""))
		require.NoError(t, err)
	})

	t.Run("unknown repository", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		_, err := e.handler.Handle(ctx, "nope", delivery("pull_request", mergedPR, testSecret))
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestOtherEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("review by someone other than the author", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		body := `{"action":"submitted","review":{"user":{"login":"bob"},"state":"approved"},"pull_request":{"number":7,"user":{"login":"ann"}}}`

		res, err := e.handler.Handle(ctx, "r1", delivery("pull_request_review", body, testSecret))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Awarded)
		got := events(t, e.store, "u2")
		require.Len(t, got, 1)
		assert.Equal(t, model.SourceCodeReview, got[0].Source)
	})

	t.Run("self review is ignored", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		body := `{"action":"submitted","review":{"user":{"login":"ann"}},"pull_request":{"number":7,"user":{"login":"ann"}}}`

		res, err := e.handler.Handle(ctx, "r1", delivery("pull_request_review", body, testSecret))
		require.NoError(t, err)
		assert.Zero(t, res.Actions)
	})

	t.Run("issue closed credits the sender", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		body := `{"action":"closed","issue":{"number":4,"state":"closed","user":{"login":"ann"},"labels":[{"name":"critical"}],
			"created_at":"2024-06-14T00:00:00Z","closed_at":"2024-06-14T02:00:00Z"},"sender":{"login":"bob"}}`

		_, err := e.handler.Handle(ctx, "r1", delivery("issues", body, testSecret))
		require.NoError(t, err)
		got := events(t, e.store, "u2")
		require.Len(t, got, 1)
		assert.Equal(t, 6, got[0].Amount)
	})

	t.Run("push awards each distinct commit", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		require.NoError(t, e.store.SaveCommit(ctx, model.Commit{ID: "c1", RepoID: "r1", SHA: "aaa111", TotalChanges: 250}))
		body := `{"ref":"refs/heads/main","commits":[
			{"id":"aaa111","distinct":true,"message":"one","author":{"username":"ann"}},
			{"id":"bbb222","distinct":true,"message":"two","author":{"username":"ann"}},
			{"id":"ccc333","distinct":false,"message":"three","author":{"username":"ann"}},
			{"id":"ddd444","distinct":true,"message":"four","author":{"username":"stranger"}}]}`

		res, err := e.handler.Handle(ctx, "r1", delivery("push", body, testSecret))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Actions)
		assert.Equal(t, 2, res.Awarded)

		got := events(t, e.store, "u1")
		require.Len(t, got, 2)
		assert.Equal(t, 2, got[0].Amount, "stored stats mark the first commit as large")
	})

	t.Run("milestone closed awards every contributor", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		m := 3
		require.NoError(t, e.store.SaveIssue(ctx, model.Issue{ID: "i1", RepoID: "r1", Number: 1, AuthorLogin: "ann", MilestoneID: &m}))
		require.NoError(t, e.store.SaveIssue(ctx, model.Issue{ID: "i2", RepoID: "r1", Number: 2, AuthorLogin: "ann", MilestoneID: &m}))
		require.NoError(t, e.store.SavePullRequest(ctx, model.PullRequest{ID: "p1", RepoID: "r1", Number: 5, AuthorLogin: "bob", MilestoneID: &m}))
		require.NoError(t, e.store.SaveIssue(ctx, model.Issue{ID: "i3", RepoID: "r1", Number: 9, AuthorLogin: "bob"}))
		body := `{"action":"closed","milestone":{"number":3,"title":"v1"},"sender":{"login":"ann"}}`

		res, err := e.handler.Handle(ctx, "r1", delivery("milestone", body, testSecret))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Awarded)
		assert.Len(t, events(t, e.store, "u1"), 1)
		assert.Len(t, events(t, e.store, "u2"), 1)
	})

	t.Run("ping is accepted", func(t *testing.T) {
		e := newEnv(t, staticCreds{}, testSecret)
		res, err := e.handler.Handle(ctx, "r1", delivery("ping", `{"zen":"Keep it logically awesome."}`, testSecret))
		require.NoError(t, err)
		assert.Equal(t, "ping", res.Event)
		assert.Zero(t, res.Actions)
	})
}

func ptr[T any](v T) *T { return &v }

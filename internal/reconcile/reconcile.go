// internal/reconcile/reconcile.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

const defaultParallelism = 8

// Store is the slice of the database the reconciler writes to.
type Store interface {
	database.MetadataStore
	database.EntityStore
}

// Result counts the outcome of one reconciliation pass.
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Reconciler merges fetched upstream entities into the store by natural key.
type Reconciler struct {
	store       Store
	logger      *slog.Logger
	parallelism int
	now         func() time.Time
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the wall clock used for derived fields.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithParallelism bounds the number of concurrent item upserts.
func WithParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// New creates a Reconciler.
func New(store Store, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		logger:      logger,
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the reconciler's current time in UTC.
func (r *Reconciler) Now() time.Time {
	return r.now().UTC()
}

// upsert looks up the existing record; an absent one is inserted, a present one merged.
func upsert[T any](
	ctx context.Context,
	lookup func(context.Context) (T, error),
	save func(context.Context, T) error,
	insert func() T,
	merge func(existing T) T,
) (bool, error) {
	existing, err := lookup(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return true, save(ctx, insert())
	}
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}
	return false, save(ctx, merge(existing))
}

// each reconciles items concurrently. A failing item is logged and counted, never returned.
func each[T any](ctx context.Context, r *Reconciler, kind string, items []T, keyOf func(T) any, one func(context.Context, T) (bool, error)) Result {
	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(r.parallelism)

	for _, item := range items {
		g.Go(func() error {
			inserted, err := one(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				r.logger.Warn("Failed to reconcile item, skipping", "kind", kind, "key", keyOf(item), "error", err)
			case inserted:
				res.Inserted++
			default:
				res.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug("Reconciled page", "kind", kind, "inserted", res.Inserted, "updated", res.Updated, "failed", res.Failed)
	return res
}

// Metadata stores the freshly fetched repository snapshot. A stored record that cannot be
// read or fails validation is deleted and recreated.
func (r *Reconciler) Metadata(ctx context.Context, repoID string, fresh model.RepositoryMetadata) (model.RepositoryMetadata, error) {
	now := r.Now()
	existing, err := r.store.GetRepositoryMetadata(ctx, repoID)
	switch {
	case err == nil && !validMetadata(existing):
		err = database.ErrCorrupt
		fallthrough
	case errors.Is(err, database.ErrCorrupt):
		r.logger.Warn("Stored repository metadata is corrupt, recreating", "repo_id", repoID, "error", err)
		if delErr := r.store.DeleteRepositoryMetadata(ctx, repoID); delErr != nil {
			return model.RepositoryMetadata{}, fmt.Errorf("delete corrupt metadata: %w", delErr)
		}
		existing = model.RepositoryMetadata{}
	case errors.Is(err, database.ErrNotFound):
		existing = model.RepositoryMetadata{}
	case err != nil:
		return model.RepositoryMetadata{}, fmt.Errorf("get metadata: %w", err)
	}

	if !validMetadata(fresh) {
		return model.RepositoryMetadata{}, fmt.Errorf("upstream metadata for %s is incomplete", repoID)
	}

	merged := fresh
	merged.ID = existing.ID
	if merged.ID == "" {
		merged.ID = uuid.NewString()
	}
	merged.RepoID = repoID
	merged.LastSynced = now
	if merged.Languages == nil {
		merged.Languages = map[string]int64{}
	}
	if merged.Topics == nil {
		merged.Topics = []string{}
	}

	if err := r.store.SaveRepositoryMetadata(ctx, merged); err != nil {
		return model.RepositoryMetadata{}, fmt.Errorf("save metadata: %w", err)
	}
	return merged, nil
}

func validMetadata(m model.RepositoryMetadata) bool {
	return m.GithubID != 0 && m.FullName != ""
}

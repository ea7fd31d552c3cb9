// internal/xp/ledger.go
package xp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

// ErrInvalidEvent is returned when an event lacks a user or a source.
var ErrInvalidEvent = errors.New("xp event requires a user id and a source")

// Ledger is the append-only XP event log. Events are never updated or deleted;
// a negative amount is the only correction.
type Ledger struct {
	store database.XPStore
	now   func() time.Time
}

// NewLedger wraps an XPStore.
func NewLedger(store database.XPStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Append assigns an id and timestamp when missing and writes the event.
func (l *Ledger) Append(ctx context.Context, e model.XPEvent) (model.XPEvent, error) {
	if e.UserID == "" || e.Source == "" {
		return model.XPEvent{}, ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if err := l.store.InsertXPEvent(ctx, e); err != nil {
		return model.XPEvent{}, fmt.Errorf("insert xp event: %w", err)
	}
	return e, nil
}

// Total sums every event of the user.
func (l *Ledger) Total(ctx context.Context, userID string) (int, error) {
	return l.store.SumXP(ctx, database.XPEventFilter{UserID: userID})
}

// Sum sums the user's events in [since, until). Nil bounds are open.
func (l *Ledger) Sum(ctx context.Context, userID string, source model.XPSource, since, until *time.Time) (int, error) {
	return l.store.SumXP(ctx, database.XPEventFilter{UserID: userID, Source: source, Since: since, Until: until})
}

// Recent returns the user's newest events first.
func (l *Ledger) Recent(ctx context.Context, userID string, limit int) ([]model.XPEvent, error) {
	return l.store.ListXPEvents(ctx, database.XPEventFilter{UserID: userID, Limit: limit, Desc: true})
}

// Since returns the user's events created at or after t, oldest first.
func (l *Ledger) Since(ctx context.Context, userID string, t time.Time) ([]model.XPEvent, error) {
	return l.store.ListXPEvents(ctx, database.XPEventFilter{UserID: userID, Since: &t})
}

// All returns every event of the user, oldest first.
func (l *Ledger) All(ctx context.Context, userID string) ([]model.XPEvent, error) {
	return l.store.ListXPEvents(ctx, database.XPEventFilter{UserID: userID})
}

// Latest returns the user's most recent event, or nil when there is none.
func (l *Ledger) Latest(ctx context.Context, userID string) (*model.XPEvent, error) {
	events, err := l.Recent(ctx, userID, 1)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// Totals aggregates every user's events in [start, end]. The end is inclusive.
func (l *Ledger) Totals(ctx context.Context, start, end time.Time) ([]database.UserXPTotal, error) {
	return l.store.XPTotals(ctx, start, end.Add(time.Nanosecond))
}

// Lifetime aggregates every user's events ever recorded.
func (l *Ledger) Lifetime(ctx context.Context) ([]database.UserXPTotal, error) {
	return l.store.XPTotals(ctx, time.Unix(0, 0).UTC(), l.now().UTC().Add(time.Nanosecond))
}

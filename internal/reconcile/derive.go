// internal/reconcile/derive.go
package reconcile

import (
	"math"
	"time"

	"github-insights/internal/model"
)

const (
	day = 24 * time.Hour

	branchStaleAfter = 30 * day
	issueStaleAfter  = 14 * day
)

// branchStale reports whether the head commit is strictly older than 30 days.
func branchStale(lastCommit *time.Time, now time.Time) bool {
	return lastCommit != nil && now.Sub(*lastCommit) > branchStaleAfter
}

// deriveIssueActivity marks an issue stale once it has gone strictly more than 14 days without an update.
func deriveIssueActivity(i *model.Issue, now time.Time) {
	i.DaysSinceActivity = wholeDays(now.Sub(i.UpdatedAt))
	i.IsStale = now.Sub(i.UpdatedAt) > issueStaleAfter
}

func derivePullRequestTimings(pr *model.PullRequest) {
	pr.TimeToFirstReview = nil
	pr.TimeToMerge = nil

	var first *time.Time
	for _, rv := range pr.Reviews {
		if rv.CreatedAt != nil && (first == nil || rv.CreatedAt.Before(*first)) {
			first = rv.CreatedAt
		}
	}
	if first != nil && !pr.CreatedAt.IsZero() {
		m := wholeMinutes(first.Sub(pr.CreatedAt))
		pr.TimeToFirstReview = &m
	}
	if pr.Merged && pr.MergedAt != nil && !pr.CreatedAt.IsZero() {
		m := wholeMinutes(pr.MergedAt.Sub(pr.CreatedAt))
		pr.TimeToMerge = &m
	}
}

// milestoneProgress is closed/(open+closed) as a percentage rounded to two places.
func milestoneProgress(open, closed int) float64 {
	total := open + closed
	if total <= 0 {
		return 0
	}
	return math.Round(float64(closed)/float64(total)*100*100) / 100
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / day)
}

func wholeMinutes(d time.Duration) int {
	return int(math.Floor(d.Minutes()))
}

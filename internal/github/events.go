// internal/github/events.go
package github

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v62/github"

	"github-insights/internal/model"
)

var (
	// ErrInvalidSignature is returned when a webhook delivery fails signature validation.
	ErrInvalidSignature = errors.New("webhook signature validation failed")
	// ErrMalformedEvent is returned when a webhook payload cannot be parsed.
	ErrMalformedEvent = errors.New("malformed webhook payload")
)

// ActionKind is a scoreable repository action carried by a webhook delivery.
type ActionKind string

const (
	ActionPRMerged         ActionKind = "pr_merged"
	ActionReviewSubmitted  ActionKind = "review_submitted"
	ActionIssueClosed      ActionKind = "issue_closed"
	ActionCommitPushed     ActionKind = "commit_pushed"
	ActionReleasePublished ActionKind = "release_published"
	ActionMilestoneClosed  ActionKind = "milestone_closed"
)

// Action is one scoreable action extracted from a webhook event. Exactly one of the
// entity pointers is set, matching Kind.
type Action struct {
	Kind        ActionKind
	Login       string
	PullRequest *model.PullRequest
	Issue       *model.Issue
	Commit      *model.Commit
	Release     *model.Release
	Milestone   *model.Milestone
}

// ParseWebhook validates the delivery against secret and extracts its scoreable actions.
// An empty secret skips signature validation. Event types with nothing to score yield
// no actions.
func ParseWebhook(r *http.Request, secret []byte) (string, []Action, error) {
	payload, err := github.ValidatePayload(r, secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	eventType := github.WebHookType(r)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return eventType, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return eventType, actionsFor(event), nil
}

func actionsFor(event any) []Action {
	switch e := event.(type) {
	case *github.PullRequestEvent:
		pr := e.GetPullRequest()
		if e.GetAction() != "closed" || !pr.GetMerged() {
			return nil
		}
		converted := toInternalPullRequest(pr, nil)
		return []Action{{Kind: ActionPRMerged, Login: pr.GetUser().GetLogin(), PullRequest: &converted}}

	case *github.PullRequestReviewEvent:
		reviewer := e.GetReview().GetUser().GetLogin()
		pr := e.GetPullRequest()
		if e.GetAction() != "submitted" || reviewer == "" || reviewer == pr.GetUser().GetLogin() {
			return nil
		}
		converted := toInternalPullRequest(pr, nil)
		return []Action{{Kind: ActionReviewSubmitted, Login: reviewer, PullRequest: &converted}}

	case *github.IssuesEvent:
		if e.GetAction() != "closed" || e.GetIssue().IsPullRequest() {
			return nil
		}
		issue := toInternalIssue(e.GetIssue())
		return []Action{{Kind: ActionIssueClosed, Login: e.GetSender().GetLogin(), Issue: &issue}}

	case *github.PushEvent:
		var out []Action
		for _, c := range e.Commits {
			if !c.GetDistinct() {
				continue
			}
			commit := model.Commit{
				SHA:         c.GetID(),
				Message:     c.GetMessage(),
				AuthorLogin: optional(c.GetAuthor().GetLogin()),
				AuthorEmail: optional(c.GetAuthor().GetEmail()),
				AuthorDate:  c.GetTimestamp().Time,
				CommitDate:  c.GetTimestamp().Time,
			}
			out = append(out, Action{Kind: ActionCommitPushed, Login: c.GetAuthor().GetLogin(), Commit: &commit})
		}
		return out

	case *github.ReleaseEvent:
		if e.GetAction() != "published" {
			return nil
		}
		release := toInternalRelease(e.GetRelease())
		return []Action{{Kind: ActionReleasePublished, Login: e.GetRelease().GetAuthor().GetLogin(), Release: &release}}

	case *github.MilestoneEvent:
		if e.GetAction() != "closed" {
			return nil
		}
		milestone := toInternalMilestone(e.GetMilestone())
		return []Action{{Kind: ActionMilestoneClosed, Login: e.GetSender().GetLogin(), Milestone: &milestone}}
	}
	return nil
}

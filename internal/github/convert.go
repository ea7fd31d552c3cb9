// internal/github/convert.go
package github

import (
	"strings"
	"time"

	"github.com/google/go-github/v62/github"

	"github-insights/internal/model"
)

// toInternalMetadata translates a github.Repository and its languages to model.RepositoryMetadata.
func toInternalMetadata(r *github.Repository, langs map[string]int) *model.RepositoryMetadata {
	languages := make(map[string]int64, len(langs))
	for lang, size := range langs {
		languages[lang] = int64(size)
	}
	topics := r.Topics
	if topics == nil {
		topics = []string{}
	}
	return &model.RepositoryMetadata{
		GithubID:        r.GetID(),
		FullName:        r.GetFullName(),
		Description:     r.Description,
		Homepage:        optional(r.GetHomepage()),
		StarsCount:      r.GetStargazersCount(),
		ForksCount:      r.GetForksCount(),
		WatchersCount:   r.GetWatchersCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		Size:            r.GetSize(),
		DefaultBranch:   defaultString(r.GetDefaultBranch(), "main"),
		Visibility:      defaultString(r.GetVisibility(), visibilityOf(r)),
		Archived:        r.GetArchived(),
		Disabled:        r.GetDisabled(),
		PrimaryLanguage: r.Language,
		Languages:       languages,
		LicenseKey:      optional(r.GetLicense().GetKey()),
		LicenseName:     optional(r.GetLicense().GetName()),
		Topics:          topics,
		CreatedAt:       r.GetCreatedAt().Time,
		UpdatedAt:       r.GetUpdatedAt().Time,
		PushedAt:        toTime(r.PushedAt),
	}
}

func visibilityOf(r *github.Repository) string {
	if r.GetPrivate() {
		return "private"
	}
	return "public"
}

// toInternalBranch builds a branch from its listing entry and, when available, its resolved head commit.
func toInternalBranch(b *github.Branch, head *github.RepositoryCommit, defaultBranch string) model.Branch {
	branch := model.Branch{
		Name:          b.GetName(),
		IsDefault:     b.GetName() == defaultBranch,
		IsProtected:   b.GetProtected(),
		LastCommitSHA: b.GetCommit().GetSHA(),
	}
	if head == nil {
		return branch
	}
	branch.LastCommitSHA = defaultString(head.GetSHA(), branch.LastCommitSHA)
	branch.LastCommitMessage = optional(head.GetCommit().GetMessage())
	if login := head.GetAuthor().GetLogin(); login != "" {
		branch.LastCommitAuthor = &login
	} else {
		branch.LastCommitAuthor = optional(head.GetCommit().GetAuthor().GetName())
	}
	date := head.GetCommit().GetAuthor().GetDate()
	branch.LastCommitDate = toTime(&date)
	return branch
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
// Commits without a verification block or stats default to unverified and zero lines.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	gc := c.GetCommit()
	authorDate := gc.GetAuthor().GetDate().Time
	commitDate := gc.GetCommitter().GetDate().Time
	if commitDate.IsZero() {
		commitDate = authorDate
	}
	verification := gc.GetVerification()
	return model.Commit{
		SHA:                c.GetSHA(),
		Message:            gc.GetMessage(),
		AuthorLogin:        optional(c.GetAuthor().GetLogin()),
		AuthorEmail:        optional(gc.GetAuthor().GetEmail()),
		AuthorDate:         authorDate,
		CommitterLogin:     optional(c.GetCommitter().GetLogin()),
		CommitterEmail:     optional(gc.GetCommitter().GetEmail()),
		CommitDate:         commitDate,
		Additions:          c.GetStats().GetAdditions(),
		Deletions:          c.GetStats().GetDeletions(),
		TotalChanges:       c.GetStats().GetAdditions() + c.GetStats().GetDeletions(),
		FilesChanged:       len(c.Files),
		Verified:           verification.GetVerified(),
		VerificationReason: optional(verification.GetReason()),
	}
}

func toInternalIssue(i *github.Issue) model.Issue {
	state := model.IssueOpen
	if strings.EqualFold(i.GetState(), "closed") {
		state = model.IssueClosed
	}
	issue := model.Issue{
		GithubID:       i.GetID(),
		Number:         i.GetNumber(),
		Title:          i.GetTitle(),
		Body:           nonEmpty(i.Body),
		State:          state,
		AuthorLogin:    defaultString(i.GetUser().GetLogin(), "unknown"),
		AuthorAvatar:   optional(i.GetUser().GetAvatarURL()),
		Assignees:      logins(i.Assignees),
		Labels:         labelNames(i.Labels),
		CommentsCount:  i.GetComments(),
		ReactionsCount: i.GetReactions().GetTotalCount(),
		CreatedAt:      i.GetCreatedAt().Time,
		UpdatedAt:      i.GetUpdatedAt().Time,
		ClosedAt:       toTime(i.ClosedAt),
	}
	if m := i.GetMilestone(); m != nil {
		number := m.GetNumber()
		issue.MilestoneID = &number
		issue.MilestoneTitle = m.Title
	}
	return issue
}

func toInternalPullRequest(pr *github.PullRequest, reviews []*github.PullRequestReview) model.PullRequest {
	state := model.PROpen
	switch {
	case pr.GetMerged():
		state = model.PRMerged
	case strings.EqualFold(pr.GetState(), "closed"):
		state = model.PRClosed
	}

	out := model.PullRequest{
		GithubID:            pr.GetID(),
		Number:              pr.GetNumber(),
		Title:               pr.GetTitle(),
		Body:                nonEmpty(pr.Body),
		State:               state,
		AuthorLogin:         defaultString(pr.GetUser().GetLogin(), "unknown"),
		AuthorAvatar:        optional(pr.GetUser().GetAvatarURL()),
		Assignees:           logins(pr.Assignees),
		RequestedReviewers:  logins(pr.RequestedReviewers),
		Labels:              labelNames(pr.Labels),
		HeadBranch:          pr.GetHead().GetRef(),
		BaseBranch:          pr.GetBase().GetRef(),
		HeadSHA:             pr.GetHead().GetSHA(),
		BaseSHA:             pr.GetBase().GetSHA(),
		Mergeable:           pr.Mergeable,
		Merged:              pr.GetMerged(),
		MergeCommitSHA:      nonEmpty(pr.MergeCommitSHA),
		Additions:           pr.GetAdditions(),
		Deletions:           pr.GetDeletions(),
		ChangedFiles:        pr.GetChangedFiles(),
		CommitsCount:        pr.GetCommits(),
		CommentsCount:       pr.GetComments(),
		ReviewCommentsCount: pr.GetReviewComments(),
		Reviews:             []model.Review{},
		CreatedAt:           pr.GetCreatedAt().Time,
		UpdatedAt:           pr.GetUpdatedAt().Time,
		ClosedAt:            toTime(pr.ClosedAt),
		MergedAt:            toTime(pr.MergedAt),
	}
	if pr.GetMerged() {
		out.MergedBy = optional(pr.GetMergedBy().GetLogin())
	}
	if m := pr.GetMilestone(); m != nil {
		number := m.GetNumber()
		out.MilestoneID = &number
		out.MilestoneTitle = m.Title
	}

	for _, rv := range reviews {
		switch strings.ToUpper(rv.GetState()) {
		case "APPROVED":
			out.ApprovedCount++
		case "CHANGES_REQUESTED":
			out.ChangesRequestedCount++
		}
		out.Reviews = append(out.Reviews, model.Review{
			User:      rv.GetUser().GetLogin(),
			State:     rv.GetState(),
			CreatedAt: toTime(rv.SubmittedAt),
		})
	}
	return out
}

func toInternalContributor(c *github.Contributor) model.Contributor {
	return model.Contributor{
		Login:        c.GetLogin(),
		GithubID:     c.GetID(),
		AvatarURL:    optional(c.GetAvatarURL()),
		CommitsCount: c.GetContributions(),
		IsActive:     true,
	}
}

func toInternalRelease(r *github.RepositoryRelease) model.Release {
	assets := make([]model.ReleaseAsset, 0, len(r.Assets))
	downloads := 0
	for _, a := range r.Assets {
		assets = append(assets, model.ReleaseAsset{
			Name:          a.GetName(),
			Size:          a.GetSize(),
			DownloadCount: a.GetDownloadCount(),
			ContentType:   a.GetContentType(),
			CreatedAt:     toTime(a.CreatedAt),
		})
		downloads += a.GetDownloadCount()
	}
	return model.Release{
		GithubID:      r.GetID(),
		TagName:       r.GetTagName(),
		Name:          nonEmpty(r.Name),
		Body:          nonEmpty(r.Body),
		IsPrerelease:  r.GetPrerelease(),
		IsDraft:       r.GetDraft(),
		AuthorLogin:   defaultString(r.GetAuthor().GetLogin(), "unknown"),
		Assets:        assets,
		AssetsCount:   len(assets),
		DownloadCount: downloads,
		CreatedAt:     r.GetCreatedAt().Time,
		PublishedAt:   toTime(r.PublishedAt),
	}
}

func toInternalMilestone(m *github.Milestone) model.Milestone {
	return model.Milestone{
		GithubID:     m.GetID(),
		Number:       m.GetNumber(),
		Title:        m.GetTitle(),
		Description:  nonEmpty(m.Description),
		State:        m.GetState(),
		OpenIssues:   m.GetOpenIssues(),
		ClosedIssues: m.GetClosedIssues(),
		CreatedAt:    m.GetCreatedAt().Time,
		UpdatedAt:    m.GetUpdatedAt().Time,
		DueOn:        toTime(m.DueOn),
		ClosedAt:     toTime(m.ClosedAt),
	}
}

func logins(users []*github.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if login := u.GetLogin(); login != "" {
			out = append(out, login)
		}
	}
	return out
}

func labelNames(labels []*github.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

func toTime(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

// nonEmpty treats an empty string the same as an absent one.
func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	return optional(*s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

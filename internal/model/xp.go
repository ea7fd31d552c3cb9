// internal/model/xp.go
package model

import "time"

// XPSource is the action kind an XP event was awarded for.
type XPSource string

const (
	SourceCommit             XPSource = "commit"
	SourcePRMerged           XPSource = "pr_merged"
	SourceIssueClosed        XPSource = "issue_closed"
	SourceCodeReview         XPSource = "code_review"
	SourceMilestoneCompleted XPSource = "milestone_completed"
	SourceReleasePublished   XPSource = "release_published"
	SourceDecay              XPSource = "xp_decay"
)

// XPEvent is an append-only ledger entry. Corrections are new events.
type XPEvent struct {
	ID                string             `json:"id" bson:"_id"`
	UserID            string             `json:"user_id" bson:"user_id"`
	GithubUsername    *string            `json:"github_username" bson:"github_username"`
	Source            XPSource           `json:"source" bson:"source"`
	Amount            int                `json:"amount" bson:"amount"`
	SkillDistribution map[string]float64 `json:"skill_distribution,omitempty" bson:"skill_distribution,omitempty"`
	RepoID            *string            `json:"repo_id" bson:"repo_id"`
	ReferenceID       *string            `json:"reference_id" bson:"reference_id"`
	ReferenceURL      *string            `json:"reference_url" bson:"reference_url"`
	IsBonus           bool               `json:"is_bonus" bson:"is_bonus"`
	BonusReason       *string            `json:"bonus_reason" bson:"bonus_reason"`
	StreakDay         *int               `json:"streak_day" bson:"streak_day"`
	Reason            *string            `json:"reason" bson:"reason"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
}

// BaseXP holds the base award for each action kind.
type BaseXP struct {
	Commit             int `json:"commit" yaml:"commit" bson:"commit"`
	IssueClosed        int `json:"issue_closed" yaml:"issue_closed" bson:"issue_closed"`
	PRMerged           int `json:"pr_merged" yaml:"pr_merged" bson:"pr_merged"`
	CodeReview         int `json:"code_review" yaml:"code_review" bson:"code_review"`
	MilestoneCompleted int `json:"milestone_completed" yaml:"milestone_completed" bson:"milestone_completed"`
	ReleasePublished   int `json:"release_published" yaml:"release_published" bson:"release_published"`
	EarlyDelivery      int `json:"early_delivery_bonus" yaml:"early_delivery_bonus" bson:"early_delivery_bonus"`
	HighPriority       int `json:"high_priority_bonus" yaml:"high_priority_bonus" bson:"high_priority_bonus"`
}

// StreakConfig controls the consecutive-day bonus.
type StreakConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled" bson:"enabled"`
	ThresholdDays int  `json:"threshold_days" yaml:"threshold_days" bson:"threshold_days"`
	BonusPerDay   int  `json:"bonus_per_day" yaml:"bonus_per_day" bson:"bonus_per_day"`
	MaxBonus      int  `json:"max_bonus" yaml:"max_bonus" bson:"max_bonus"`
}

// DecayConfig controls inactivity decay. MinXP is the floor a decay can never cross.
type DecayConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" bson:"enabled"`
	DaysInactive int     `json:"days_inactive" yaml:"days_inactive" bson:"days_inactive"`
	Percentage   float64 `json:"percentage" yaml:"percentage" bson:"percentage"`
	MinXP        int     `json:"min_xp" yaml:"min_xp" bson:"min_xp"`
}

// QualityConfig controls the optional code-quality multiplier on merged PRs.
type QualityConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled" bson:"enabled"`
	CoverageThreshold  float64 `json:"coverage_threshold" yaml:"coverage_threshold" bson:"coverage_threshold"`
	CoverageMultiplier float64 `json:"coverage_multiplier" yaml:"coverage_multiplier" bson:"coverage_multiplier"`
}

// XPConfiguration is the scoring configuration singleton.
type XPConfiguration struct {
	Base    BaseXP        `json:"base" yaml:"base" bson:"base"`
	Streak  StreakConfig  `json:"streak" yaml:"streak" bson:"streak"`
	Decay   DecayConfig   `json:"decay" yaml:"decay" bson:"decay"`
	Quality QualityConfig `json:"quality" yaml:"quality" bson:"quality"`
}

// DefaultXPConfiguration returns the configuration used when none is stored.
func DefaultXPConfiguration() XPConfiguration {
	return XPConfiguration{
		Base: BaseXP{
			Commit:             1,
			IssueClosed:        3,
			PRMerged:           5,
			CodeReview:         2,
			MilestoneCompleted: 5,
			ReleasePublished:   10,
			EarlyDelivery:      2,
			HighPriority:       2,
		},
		Streak: StreakConfig{Enabled: true, ThresholdDays: 1, BonusPerDay: 1, MaxBonus: 10},
		Decay:  DecayConfig{Enabled: true, DaysInactive: 7, Percentage: 0.05, MinXP: 0},
		Quality: QualityConfig{
			Enabled:            false,
			CoverageThreshold:  80,
			CoverageMultiplier: 1.2,
		},
	}
}

// Leaderboard periods.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all-time"
)

// LeaderboardEntry is one ranked row of a snapshot.
type LeaderboardEntry struct {
	UserID         string             `json:"user_id" bson:"user_id"`
	Login          string             `json:"login" bson:"login"`
	TotalXP        int                `json:"total_xp" bson:"total_xp"`
	Rank           int                `json:"rank" bson:"rank"`
	EventCount     int                `json:"event_count" bson:"event_count"`
	Sources        map[string]int     `json:"sources" bson:"sources"`
	SkillBreakdown map[string]float64 `json:"skill_breakdown" bson:"skill_breakdown"`
}

// XPLeaderboard is an immutable ranking snapshot.
type XPLeaderboard struct {
	ID                string             `json:"id" bson:"_id"`
	Period            string             `json:"period" bson:"period"`
	PeriodStart       time.Time          `json:"period_start" bson:"period_start"`
	PeriodEnd         time.Time          `json:"period_end" bson:"period_end"`
	Entries           []LeaderboardEntry `json:"entries" bson:"entries"`
	TotalParticipants int                `json:"total_participants" bson:"total_participants"`
	TotalXPAwarded    int                `json:"total_xp_awarded" bson:"total_xp_awarded"`
	GeneratedAt       time.Time          `json:"generated_at" bson:"generated_at"`
}

// UserXPStats summarises one user's standing.
type UserXPStats struct {
	UserID         string             `json:"user_id"`
	TotalXP        int                `json:"total_xp"`
	SkillBreakdown map[string]float64 `json:"skill_breakdown"`
	RecentEvents   []XPEvent          `json:"recent_events"`
	ThirtyDayXP    int                `json:"thirty_day_xp"`
	GrowthRate     float64            `json:"growth_rate"`
	CurrentStreak  int                `json:"current_streak"`
	Rank           int                `json:"rank"`
}

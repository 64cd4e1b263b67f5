package types

// LeaderboardEntry is one ranked row of a challenge leaderboard.
type LeaderboardEntry struct {
	// Rank is the 1-based competition rank; tied entries share it.
	Rank int `json:"rank"`

	// UserID identifies the participant.
	UserID int `json:"user_id"`

	// DisplayName is resolved from the user directory when available.
	DisplayName string `json:"display_name,omitempty"`

	// Score is the recorded score.
	Score int `json:"score"`

	// TimeSpent is the recorded attempt duration, in seconds.
	TimeSpent int `json:"time_spent"`

	// Prize is the reward for Rank, empty when the prize table has none.
	Prize string `json:"prize,omitempty"`
}

// Leaderboard is the ranked view of a challenge's results.
// Version is the challenge version the board was computed from.
type Leaderboard struct {
	ChallengeID    int                `json:"challenge_id"`
	ChallengeTitle string             `json:"challenge_title"`
	Status         ChallengeStatus    `json:"status"`
	Final          bool               `json:"final"`
	Version        int64              `json:"version"`
	Entries        []LeaderboardEntry `json:"entries"`
	Prizes         []Prize            `json:"prizes"`
}

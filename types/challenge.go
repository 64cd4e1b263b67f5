package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Challenge represents a time-boxed, capacity-limited competitive quiz event.
// It is the aggregate root for admission, lifecycle transitions and results.
type Challenge struct {
	// ID is the unique identifier of the challenge.
	ID int `json:"id" db:"id"`

	// CreatorID identifies the user who created the challenge.
	CreatorID int `json:"creator_id" db:"creator_id"`

	// SubjectID references the subject the challenge belongs to.
	SubjectID int `json:"subject_id" db:"subject_id"`

	// TopicID references the topic within the subject.
	TopicID int `json:"topic_id" db:"topic_id"`

	// Title is the human-readable name of the challenge.
	Title string `json:"title" db:"title"`

	// Description is a free-form description shown to participants.
	Description string `json:"description" db:"description"`

	// Difficulty is the advertised difficulty level.
	Difficulty Difficulty `json:"difficulty" db:"difficulty"`

	// QuestionIDs is the ordered list of questions asked in every attempt.
	QuestionIDs []int `json:"question_ids" db:"question_ids"`

	// TimeLimit is the maximum duration of a single attempt, in seconds.
	TimeLimit int `json:"time_limit" db:"time_limit"`

	// MaxParticipants caps the roster size (2 to 1000).
	MaxParticipants int `json:"max_participants" db:"max_participants"`

	// Prizes maps leaderboard ranks to reward descriptions.
	Prizes []Prize `json:"prizes" db:"prizes"`

	// Rules holds the behavioural flags of the challenge.
	Rules Rules `json:"rules" db:"rules"`

	// StartDate is when the contest opens for attempts.
	StartDate time.Time `json:"start_date" db:"start_date"`

	// EndDate is when the contest is due to finish.
	EndDate time.Time `json:"end_date" db:"end_date"`

	// RegistrationDeadline is the optional last moment users may join.
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty" db:"registration_deadline"`

	// Timezone is the IANA zone the schedule is displayed in.
	Timezone string `json:"timezone" db:"timezone"`

	// Status is the lifecycle state of the challenge.
	Status ChallengeStatus `json:"status" db:"status"`

	// IsActive is false once the challenge has been soft-deleted.
	IsActive bool `json:"is_active" db:"is_active"`

	// Participants is the set of user ids admitted to the challenge,
	// kept sorted and free of duplicates.
	Participants []int `json:"participants" db:"participants"`

	// Winners holds at most one recorded result per participant.
	Winners []WinnerEntry `json:"winners" db:"winners"`

	// Version is incremented on every accepted mutation and used for
	// optimistic concurrency control.
	Version int64 `json:"version" db:"version"`

	// CreatedAt is the timestamp at which the challenge was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent mutation.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// StartedAt is set when the challenge transitions to active.
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`

	// CompletedAt is set when the challenge transitions to completed.
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// CancelledAt is set when the challenge transitions to cancelled.
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Clone returns a deep copy of the challenge so that callers can mutate
// the copy without affecting the original.
func (c Challenge) Clone() Challenge {
	out := c
	out.QuestionIDs = append([]int(nil), c.QuestionIDs...)
	out.Prizes = append([]Prize(nil), c.Prizes...)
	out.Participants = append([]int(nil), c.Participants...)
	out.Winners = append([]WinnerEntry(nil), c.Winners...)
	out.RegistrationDeadline = cloneTime(c.RegistrationDeadline)
	out.StartedAt = cloneTime(c.StartedAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	out.CancelledAt = cloneTime(c.CancelledAt)
	return out
}

// HasParticipant reports whether userID is on the roster.
func (c Challenge) HasParticipant(userID int) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// WinnerIndex returns the index of userID's entry in Winners, or -1.
func (c Challenge) WinnerIndex(userID int) int {
	for i, w := range c.Winners {
		if w.UserID == userID {
			return i
		}
	}
	return -1
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Prize maps a leaderboard rank to a reward description.
type Prize struct {
	// Rank is the 1-based leaderboard position that earns the reward.
	Rank int `json:"rank"`

	// Reward describes what the holder of Rank receives.
	Reward string `json:"reward"`
}

// Rules are the behavioural flags of a challenge.
type Rules struct {
	// AllowMultipleAttempts lets a participant resubmit; only an
	// improving result replaces the recorded one.
	AllowMultipleAttempts bool `json:"allow_multiple_attempts"`

	// ShowLeaderboard exposes the provisional leaderboard to everyone
	// while the challenge is running.
	ShowLeaderboard bool `json:"show_leaderboard"`

	// ShuffleQuestions asks clients to randomise question order.
	ShuffleQuestions bool `json:"shuffle_questions"`

	// AntiCheat enables client-side anti-cheat enforcement.
	AntiCheat bool `json:"anti_cheat"`
}

// WinnerEntry is a participant's recorded result.
type WinnerEntry struct {
	// UserID identifies the participant.
	UserID int `json:"user_id"`

	// Score is the number of points scored in the attempt.
	Score int `json:"score"`

	// TimeSpent is the attempt duration, in seconds.
	TimeSpent int `json:"time_spent"`

	// CompletedAt is when the result was submitted.
	CompletedAt time.Time `json:"completed_at"`
}

// Difficulty is the advertised difficulty of a challenge.
type Difficulty string

// Supported difficulty values.
const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the supported values.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// ChallengeStatus represents the lifecycle state of a challenge.
type ChallengeStatus int

// Supported challenge statuses.
const (
	// StatusDraft is a challenge that is not yet visible for joining.
	StatusDraft ChallengeStatus = iota

	// StatusOpen is a challenge accepting join and leave requests.
	StatusOpen

	// StatusActive is a running challenge with a frozen roster.
	StatusActive

	// StatusCompleted is a finished challenge with a frozen leaderboard.
	StatusCompleted

	// StatusCancelled is a challenge withdrawn before it started.
	StatusCancelled
)

// String returns the string representation used in the API, the database
// and logs.
func (s ChallengeStatus) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s ChallengeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseChallengeStatus converts the string form back into a status.
func ParseChallengeStatus(raw string) (ChallengeStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "draft":
		return StatusDraft, nil
	case "open":
		return StatusOpen, nil
	case "active":
		return StatusActive, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown challenge status %q", raw)
	}
}

func (s ChallengeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ChallengeStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseChallengeStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ChallengeFilter narrows a challenge listing. Zero values match anything.
type ChallengeFilter struct {
	Status          *ChallengeStatus
	SubjectID       int
	TopicID         int
	CreatorID       int
	Difficulty      Difficulty
	IncludeInactive bool
}

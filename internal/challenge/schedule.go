package challenge

import (
	"strings"
	"time"

	"github.com/prepbolt/apiserver/types"
)

const (
	MinParticipants = 2
	MaxParticipants = 1000
	maxTitleLength  = 200
)

// ValidateSchedule checks a challenge time window against now.
// The start must lie in the future, the end after the start, and the
// optional registration deadline before the start.
func ValidateSchedule(start, end time.Time, registrationDeadline *time.Time, now time.Time) error {
	if start.IsZero() {
		return &ScheduleError{Field: "start_date", Reason: "is required"}
	}
	if end.IsZero() {
		return &ScheduleError{Field: "end_date", Reason: "is required"}
	}
	if !start.After(now) {
		return &ScheduleError{Field: "start_date", Reason: "must be in the future"}
	}
	if !end.After(start) {
		return &ScheduleError{Field: "end_date", Reason: "must be after start_date"}
	}
	if registrationDeadline != nil && !registrationDeadline.Before(start) {
		return &ScheduleError{Field: "registration_deadline", Reason: "must be before start_date"}
	}
	return nil
}

// ValidateConfig checks the static configuration of c. It does not look at
// the schedule relative to the current time; see ValidateSchedule.
func ValidateConfig(c types.Challenge) error {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: "is too long"}
	}
	if !c.Difficulty.Valid() {
		return &ValidationError{Field: "difficulty", Reason: "must be easy, medium or hard"}
	}
	if len(c.QuestionIDs) == 0 {
		return &ValidationError{Field: "question_ids", Reason: "at least one question is required"}
	}
	seen := make(map[int]struct{}, len(c.QuestionIDs))
	for _, id := range c.QuestionIDs {
		if id < 1 {
			return &ValidationError{Field: "question_ids", Reason: "ids must be positive"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "question_ids", Reason: "ids must be unique"}
		}
		seen[id] = struct{}{}
	}
	if c.TimeLimit <= 0 {
		return &ValidationError{Field: "time_limit", Reason: "must be positive"}
	}
	if c.MaxParticipants < MinParticipants || c.MaxParticipants > MaxParticipants {
		return &ValidationError{Field: "max_participants", Reason: "must be between 2 and 1000"}
	}
	if len(c.Participants) > c.MaxParticipants {
		return &ValidationError{Field: "max_participants", Reason: "is below the current participant count"}
	}
	ranks := make(map[int]struct{}, len(c.Prizes))
	for _, p := range c.Prizes {
		if p.Rank < 1 {
			return &ValidationError{Field: "prizes", Reason: "rank must be at least 1"}
		}
		if strings.TrimSpace(p.Reward) == "" {
			return &ValidationError{Field: "prizes", Reason: "reward is required"}
		}
		if _, dup := ranks[p.Rank]; dup {
			return &ValidationError{Field: "prizes", Reason: "ranks must be unique"}
		}
		ranks[p.Rank] = struct{}{}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ValidationError{Field: "timezone", Reason: "unknown time zone"}
	}
	return nil
}

// ValidateNew checks a challenge about to be created.
func ValidateNew(c types.Challenge, now time.Time) error {
	if c.Status != types.StatusDraft && c.Status != types.StatusOpen {
		return &ValidationError{Field: "status", Reason: "must be draft or open"}
	}
	if c.CreatorID < 1 {
		return &ValidationError{Field: "creator_id", Reason: "is required"}
	}
	if err := ValidateConfig(c); err != nil {
		return err
	}
	return ValidateSchedule(c.StartDate, c.EndDate, c.RegistrationDeadline, now)
}

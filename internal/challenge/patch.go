package challenge

import (
	"time"

	"github.com/prepbolt/apiserver/types"
)

// Patch is a partial update of a challenge's configuration. Nil fields are
// left unchanged.
type Patch struct {
	Title                     *string
	Description               *string
	SubjectID                 *int
	TopicID                   *int
	Difficulty                *types.Difficulty
	QuestionIDs               []int
	TimeLimit                 *int
	MaxParticipants           *int
	Prizes                    []types.Prize
	Rules                     *types.Rules
	StartDate                 *time.Time
	EndDate                   *time.Time
	RegistrationDeadline      *time.Time
	ClearRegistrationDeadline bool
	Timezone                  *string
}

// TouchesSchedule reports whether the patch changes the time window.
func (p Patch) TouchesSchedule() bool {
	return p.StartDate != nil || p.EndDate != nil || p.RegistrationDeadline != nil || p.ClearRegistrationDeadline
}

// TouchesQuestions reports whether the patch replaces the question list.
func (p Patch) TouchesQuestions() bool {
	return p.QuestionIDs != nil
}

// ApplyPatch updates c in place. Running and finished challenges are
// immutable; the patch is validated as a whole and nothing is applied when
// any field is rejected.
func ApplyPatch(c *types.Challenge, p Patch, now time.Time) error {
	if !c.IsActive {
		return ErrNotFound
	}
	if c.Status == types.StatusActive || c.Status == types.StatusCompleted {
		return ErrLocked
	}

	next := c.Clone()
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.SubjectID != nil {
		next.SubjectID = *p.SubjectID
	}
	if p.TopicID != nil {
		next.TopicID = *p.TopicID
	}
	if p.Difficulty != nil {
		next.Difficulty = *p.Difficulty
	}
	if p.QuestionIDs != nil {
		next.QuestionIDs = append([]int(nil), p.QuestionIDs...)
	}
	if p.TimeLimit != nil {
		next.TimeLimit = *p.TimeLimit
	}
	if p.MaxParticipants != nil {
		next.MaxParticipants = *p.MaxParticipants
	}
	if p.Prizes != nil {
		next.Prizes = append([]types.Prize(nil), p.Prizes...)
	}
	if p.Rules != nil {
		next.Rules = *p.Rules
	}
	if p.StartDate != nil {
		next.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		next.EndDate = *p.EndDate
	}
	if p.ClearRegistrationDeadline {
		next.RegistrationDeadline = nil
	}
	if p.RegistrationDeadline != nil {
		deadline := *p.RegistrationDeadline
		next.RegistrationDeadline = &deadline
	}
	if p.Timezone != nil {
		next.Timezone = *p.Timezone
	}

	if err := ValidateConfig(next); err != nil {
		return err
	}
	if p.TouchesSchedule() {
		if err := ValidateSchedule(next.StartDate, next.EndDate, next.RegistrationDeadline, now); err != nil {
			return err
		}
	}

	*c = next
	return nil
}

package challenge

import (
	"sort"
	"time"

	"github.com/prepbolt/apiserver/types"
)

// Join admits userID to c in place. Checks run in a fixed order so that
// callers see the most fundamental rejection first.
func Join(c *types.Challenge, userID int, now time.Time) error {
	if !c.IsActive {
		return ErrNotFound
	}
	if c.Status != types.StatusOpen {
		return ErrNotJoinable
	}
	if c.RegistrationDeadline != nil && !now.Before(*c.RegistrationDeadline) {
		return ErrRegistrationClosed
	}
	if c.HasParticipant(userID) {
		return ErrAlreadyJoined
	}
	if len(c.Participants) >= c.MaxParticipants {
		return ErrFull
	}

	c.Participants = append(c.Participants, userID)
	sort.Ints(c.Participants)
	return nil
}

// Leave removes userID from c in place. The roster is frozen once the
// challenge starts.
func Leave(c *types.Challenge, userID int) error {
	if !c.IsActive {
		return ErrNotFound
	}
	if c.Status == types.StatusActive || c.Status == types.StatusCompleted {
		return ErrLocked
	}

	idx := -1
	for i, id := range c.Participants {
		if id == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotAParticipant
	}
	c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)
	return nil
}

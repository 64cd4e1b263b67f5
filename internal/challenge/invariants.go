package challenge

import (
	"fmt"

	"github.com/prepbolt/apiserver/types"
)

// CheckInvariants verifies the aggregate invariants that must hold at every
// observable state. The service runs it before persisting a mutation.
func CheckInvariants(c types.Challenge) error {
	if len(c.Participants) > c.MaxParticipants {
		return fmt.Errorf("%d participants exceed capacity %d", len(c.Participants), c.MaxParticipants)
	}
	members := make(map[int]struct{}, len(c.Participants))
	for _, id := range c.Participants {
		if _, dup := members[id]; dup {
			return fmt.Errorf("participant %d listed twice", id)
		}
		members[id] = struct{}{}
	}
	if len(c.Winners) > 0 && c.Status != types.StatusActive && c.Status != types.StatusCompleted {
		return fmt.Errorf("winners recorded while %s", c.Status)
	}
	winners := make(map[int]struct{}, len(c.Winners))
	for _, w := range c.Winners {
		if _, dup := winners[w.UserID]; dup {
			return fmt.Errorf("user %d has more than one result", w.UserID)
		}
		if _, ok := members[w.UserID]; !ok {
			return fmt.Errorf("user %d has a result but is not a participant", w.UserID)
		}
		winners[w.UserID] = struct{}{}
	}
	if c.RegistrationDeadline != nil && !c.RegistrationDeadline.Before(c.StartDate) {
		return fmt.Errorf("registration deadline not before start")
	}
	if !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("end date not after start")
	}
	return nil
}

package challenge

import (
	"sort"
	"time"

	"github.com/prepbolt/apiserver/types"
)

// SubmitResult records userID's result on c in place. It reports whether
// the aggregate changed: a non-improving resubmission under
// AllowMultipleAttempts is accepted without modification.
func SubmitResult(c *types.Challenge, userID, score, timeSpent int, now time.Time) (bool, error) {
	if !c.IsActive {
		return false, ErrNotFound
	}
	if score < 0 {
		return false, &ValidationError{Field: "score", Reason: "must not be negative"}
	}
	if timeSpent < 0 {
		return false, &ValidationError{Field: "time_spent", Reason: "must not be negative"}
	}
	if c.Status != types.StatusActive {
		return false, ErrNotActive
	}
	if !c.HasParticipant(userID) {
		return false, ErrNotAParticipant
	}

	entry := types.WinnerEntry{
		UserID:      userID,
		Score:       score,
		TimeSpent:   timeSpent,
		CompletedAt: now,
	}

	idx := c.WinnerIndex(userID)
	if idx < 0 {
		c.Winners = append(c.Winners, entry)
		return true, nil
	}
	if !c.Rules.AllowMultipleAttempts {
		return false, ErrDuplicateSubmission
	}
	if !improves(entry, c.Winners[idx]) {
		return false, nil
	}
	c.Winners[idx] = entry
	return true, nil
}

// improves reports whether candidate is a strictly better result than
// current: a higher score, or the same score in less time.
func improves(candidate, current types.WinnerEntry) bool {
	if candidate.Score != current.Score {
		return candidate.Score > current.Score
	}
	return candidate.TimeSpent < current.TimeSpent
}

// less orders entries by score descending, time spent ascending, then
// submission time ascending and finally user id.
func less(a, b types.WinnerEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.TimeSpent != b.TimeSpent {
		return a.TimeSpent < b.TimeSpent
	}
	if !a.CompletedAt.Equal(b.CompletedAt) {
		return a.CompletedAt.Before(b.CompletedAt)
	}
	return a.UserID < b.UserID
}

// ComputeLeaderboard ranks the winners of c. Entries with equal score and
// equal time spent share a rank; the next distinct entry is ranked by its
// position (competition ranking). c is not modified.
func ComputeLeaderboard(c types.Challenge) []types.LeaderboardEntry {
	sorted := append([]types.WinnerEntry(nil), c.Winners...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	prizes := make(map[int]string, len(c.Prizes))
	for _, p := range c.Prizes {
		prizes[p.Rank] = p.Reward
	}

	entries := make([]types.LeaderboardEntry, 0, len(sorted))
	rank := 0
	for i, w := range sorted {
		if i == 0 || w.Score != sorted[i-1].Score || w.TimeSpent != sorted[i-1].TimeSpent {
			rank = i + 1
		}
		entries = append(entries, types.LeaderboardEntry{
			Rank:      rank,
			UserID:    w.UserID,
			Score:     w.Score,
			TimeSpent: w.TimeSpent,
			Prize:     prizes[rank],
		})
	}
	return entries
}

// BuildLeaderboard wraps ComputeLeaderboard with the challenge metadata.
func BuildLeaderboard(c types.Challenge) types.Leaderboard {
	prizes := append([]types.Prize(nil), c.Prizes...)
	sort.Slice(prizes, func(i, j int) bool { return prizes[i].Rank < prizes[j].Rank })
	if prizes == nil {
		prizes = []types.Prize{}
	}
	return types.Leaderboard{
		ChallengeID:    c.ID,
		ChallengeTitle: c.Title,
		Status:         c.Status,
		Final:          c.Status == types.StatusCompleted,
		Version:        c.Version,
		Entries:        ComputeLeaderboard(c),
		Prizes:         prizes,
	}
}

// CanViewLeaderboard reports whether viewer may read the board of c. A
// hidden board is visible to its creator and operators until completion.
func CanViewLeaderboard(c types.Challenge, viewer types.Actor) bool {
	if c.Rules.ShowLeaderboard || c.Status == types.StatusCompleted {
		return true
	}
	return Authorize(c, viewer) == nil
}

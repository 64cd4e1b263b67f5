package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/prepbolt/apiserver/types"
)

// ErrObjectNotFound is returned by backends when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

const leaderboardPrefix = "leaderboards/"

// LeaderboardArchive writes final leaderboards as JSON documents so that
// completed challenges keep their results independent of the database.
type LeaderboardArchive struct {
	store *Storage
}

func NewLeaderboardArchive(s *Storage) *LeaderboardArchive {
	return &LeaderboardArchive{store: s}
}

func (a *LeaderboardArchive) Archive(ctx context.Context, board types.Leaderboard) error {
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	key := LeaderboardKey(board.ChallengeID)
	err = a.store.Put(ctx, Object{
		Key:          key,
		Body:         bytes.NewReader(data),
		Size:         int64(len(data)),
		ContentType:  "application/json",
		CacheControl: "public, max-age=31536000, immutable",
		Metadata: map[string]string{
			"challenge-id": strconv.Itoa(board.ChallengeID),
			"version":      strconv.FormatInt(board.Version, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Load reads an archived leaderboard. The boolean is false when none was
// archived.
func (a *LeaderboardArchive) Load(ctx context.Context, challengeID int) (types.Leaderboard, bool, error) {
	key := LeaderboardKey(challengeID)
	r, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return types.Leaderboard{}, false, nil
	}
	if err != nil {
		return types.Leaderboard{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer r.Close()

	var board types.Leaderboard
	if err := json.NewDecoder(r).Decode(&board); err != nil {
		return types.Leaderboard{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return board, true, nil
}

// LeaderboardKey is the object key of a challenge's archived leaderboard.
func LeaderboardKey(challengeID int) string {
	return fmt.Sprintf("%s%d.json", leaderboardPrefix, challengeID)
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/prepbolt/apiserver/config"
	"github.com/prepbolt/apiserver/types"
	"github.com/redis/go-redis/v9"
)

const (
	leaderboardKeyPrefix = "leaderboard:challenge:"
	pingTimeout          = 5 * time.Second
)

// Open connects to Redis. It returns a nil client when no address is
// configured.
func Open(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// LeaderboardCache stores rendered leaderboards in Redis. Provisional
// boards expire after ttl; final boards never change and are kept
// without expiry.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

// Get returns the cached board and whether one was found.
func (c *LeaderboardCache) Get(ctx context.Context, challengeID int) (types.Leaderboard, bool, error) {
	data, err := c.client.Get(ctx, leaderboardKey(challengeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Leaderboard{}, false, nil
	}
	if err != nil {
		return types.Leaderboard{}, false, err
	}
	var board types.Leaderboard
	if err := json.Unmarshal(data, &board); err != nil {
		return types.Leaderboard{}, false, err
	}
	return board, true, nil
}

func (c *LeaderboardCache) Set(ctx context.Context, board types.Leaderboard) error {
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, leaderboardKey(board.ChallengeID), data, c.expiry(board)).Err()
}

func (c *LeaderboardCache) Invalidate(ctx context.Context, challengeID int) error {
	return c.client.Del(ctx, leaderboardKey(challengeID)).Err()
}

func (c *LeaderboardCache) expiry(board types.Leaderboard) time.Duration {
	if board.Final {
		return 0
	}
	return c.ttl
}

func leaderboardKey(challengeID int) string {
	return leaderboardKeyPrefix + strconv.Itoa(challengeID)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prepbolt/apiserver/config"
	"github.com/prepbolt/apiserver/types"
)

func TestLeaderboardKey(t *testing.T) {
	if got := leaderboardKey(17); got != "leaderboard:challenge:17" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestExpiry(t *testing.T) {
	c := NewLeaderboardCache(nil, 30*time.Second)
	if got := c.expiry(types.Leaderboard{Final: false}); got != 30*time.Second {
		t.Fatalf("provisional board should use the ttl, got %s", got)
	}
	if got := c.expiry(types.Leaderboard{Final: true}); got != 0 {
		t.Fatalf("final board should not expire, got %s", got)
	}
}

func TestOpenDisabled(t *testing.T) {
	client, err := Open(context.Background(), config.RedisConfig{})
	if err != nil || client != nil {
		t.Fatalf("expected disabled cache, got %v %v", client, err)
	}
}

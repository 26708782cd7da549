package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scoresKey  = "lb:scores"
	namesKey   = "lb:names"
	appliedTTL = 24 * time.Hour
)

// RedisLeaderboard keeps a score ZSET for fast leaderboard reads.
type RedisLeaderboard struct {
	client *redis.Client
}

func NewRedisLeaderboard(client *redis.Client) *RedisLeaderboard {
	return &RedisLeaderboard{client: client}
}

func (c *RedisLeaderboard) appliedKey(matchKey string) string {
	return fmt.Sprintf("lb:applied:%s", matchKey)
}

func (c *RedisLeaderboard) Name() string { return "redis" }

func (c *RedisLeaderboard) Record(ctx context.Context, m MatchRecord) error {
	key := c.appliedKey(m.Key())
	fresh, err := c.client.SetNX(ctx, key, 1, appliedTTL).Result()
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, side := range []Side{m.Host, m.Guest} {
			p.ZIncrBy(ctx, scoresKey, float64(side.Points), side.Player.UserID)
			p.HSet(ctx, namesKey, side.Player.UserID, side.Player.Username)
		}
		return nil
	})
	if err != nil {
		// Release the marker so a retry can apply the increments.
		c.client.Del(ctx, key)
		return err
	}
	return nil
}

func (c *RedisLeaderboard) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, scoresKey, 0, int64(ClampLimit(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []LeaderboardEntry{}, nil
	}

	ids := make([]string, len(results))
	for i, z := range results {
		ids[i] = z.Member.(string)
	}
	names, err := c.client.HMGet(ctx, namesKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(results))
	for i, z := range results {
		name, _ := names[i].(string)
		entries[i] = LeaderboardEntry{
			UserID:   ids[i],
			Username: name,
			Score:    int(z.Score),
			Rank:     i + 1,
		}
	}
	return entries, nil
}

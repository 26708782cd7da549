package profile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/rps-coordinator/internal/engine"
)

// uniqueRecord gives each run its own users so a shared database stays usable.
func uniqueRecord(t *testing.T) MatchRecord {
	t.Helper()
	m := resolvedRecord(t)
	suffix := uuid.NewString()[:8]
	m.Host.Player.UserID += "-" + suffix
	m.Guest.Player.UserID += "-" + suffix
	m.ResolvedAt = time.Now().UTC().Truncate(time.Microsecond)
	return m
}

func TestPostgresStore_RecordIsIdempotent(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := OpenPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	m := uniqueRecord(t)
	require.NoError(t, store.Record(ctx, m))
	require.NoError(t, store.Record(ctx, m)) // retry after an ambiguous failure

	var host User
	require.NoError(t, store.db.Where("user_id = ?", m.Host.Player.UserID).First(&host).Error)
	assert.Equal(t, engine.PointsWin, host.Score)

	page, err := store.GameHistory(ctx, m.Guest.Player.UserID, 0)
	require.NoError(t, err)
	assert.Equal(t, m.Guest.Player.UserID, page.UserID)
	assert.Equal(t, "Guest", page.Username)
	history := page.GameHistory
	require.Len(t, history, 1)
	assert.Equal(t, m.Host.Player.UserID, history[0].OpponentID)
	assert.Equal(t, "lose", history[0].Result)
	assert.Equal(t, engine.PointsLose, history[0].PointsEarned)

	var friends int64
	require.NoError(t, store.db.Model(&Friendship{}).
		Where("user_id IN ?", []string{m.Host.Player.UserID, m.Guest.Player.UserID}).
		Count(&friends).Error)
	assert.EqualValues(t, 2, friends)

	_, err = store.GameHistory(ctx, "u-nobody-"+uuid.NewString(), 0)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRedisLeaderboard_RecordIsIdempotent(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	lb := NewRedisLeaderboard(client)
	m := uniqueRecord(t)
	t.Cleanup(func() {
		client.ZRem(ctx, scoresKey, m.Host.Player.UserID, m.Guest.Player.UserID)
		client.HDel(ctx, namesKey, m.Host.Player.UserID, m.Guest.Player.UserID)
		client.Del(ctx, lb.appliedKey(m.Key()))
	})

	require.NoError(t, lb.Record(ctx, m))
	require.NoError(t, lb.Record(ctx, m))

	score, err := client.ZScore(ctx, scoresKey, m.Host.Player.UserID).Result()
	require.NoError(t, err)
	assert.Equal(t, float64(engine.PointsWin), score)

	entries, err := lb.Leaderboard(ctx, MaxLimit)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.UserID == m.Guest.Player.UserID {
			found = true
			assert.Equal(t, "Guest", e.Username)
			assert.Equal(t, engine.PointsLose, e.Score)
		}
	}
	assert.True(t, found, "guest missing from leaderboard")
}

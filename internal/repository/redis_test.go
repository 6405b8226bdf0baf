package repository

import (
	"context"
	"testing"
	"time"

	"clinicrooms/internal/config"
	"clinicrooms/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDraftRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisDraftRepository(client)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		draft := &models.Draft{
			ID:          "d1",
			UserID:      "u1",
			BookingType: models.BookingDaily,
			Selections: []models.Selection{{
				RoomID:   "R1",
				TimeSlot: models.SlotMorning,
				Dates:    []time.Time{time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
			}},
		}
		require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))

		got, err := repo.GetDraft(ctx, "d1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.UserID)
		require.Len(t, got.Selections, 1)
		assert.Equal(t, models.SlotMorning, got.Selections[0].TimeSlot)
		assert.True(t, got.Selections[0].Dates[0].Equal(draft.Selections[0].Dates[0]))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, repo.SaveDraft(ctx, &models.Draft{ID: "d2"}, time.Minute))
		s.FastForward(2 * time.Minute)

		got, err := repo.GetDraft(ctx, "d2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.SaveDraft(ctx, &models.Draft{ID: "d3"}, time.Hour))
		require.NoError(t, repo.DeleteDraft(ctx, "d3"))

		got, err := repo.GetDraft(ctx, "d3")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("RateLimit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			ok, err := repo.CheckRateLimit(ctx, "u9", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := repo.CheckRateLimit(ctx, "u9", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		s.FastForward(2 * time.Minute)
		ok, err = repo.CheckRateLimit(ctx, "u9", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("NilClient", func(t *testing.T) {
		r := NewRedisDraftRepository(nil)
		_, err := r.GetDraft(ctx, "x")
		assert.Error(t, err)
		assert.Error(t, r.SaveDraft(ctx, &models.Draft{ID: "x"}, time.Minute))
	})
}

func TestRedisDraftRepository_Unavailable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	repo := NewRedisDraftRepository(client)
	_, err = repo.GetDraft(context.Background(), "d1")
	assert.Error(t, err)
}

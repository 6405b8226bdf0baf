package database

import (
	"context"
	"testing"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	r1 := &models.Room{ID: "R1", Name: "Room 1", SortOrder: 2, IsActive: true, DailyRates: models.SlotRates{Full: 100, Morning: 60, Evening: 50}}
	r2 := &models.Room{ID: "R2", Name: "Room 2", SortOrder: 1, IsActive: true, MonthlyRate: 1000}
	r3 := &models.Room{ID: "R3", Name: "Room 3", SortOrder: 3, IsActive: false, MonthlyRate: 1000}
	for _, r := range []*models.Room{r1, r2, r3} {
		require.NoError(t, db.UpsertRoom(ctx, r))
	}

	active, err := db.ListRooms(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "R2", active[0].ID)

	all, err := db.ListRooms(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	r1.Name = "Renamed"
	r1.DailyRates.Morning = 70
	require.NoError(t, db.UpsertRoom(ctx, r1))
	got, err := db.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, int64(70), got.DailyRates.Morning)

	_, err = db.GetRoom(ctx, "R9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package service

import (
	"context"
	"sort"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"

	"github.com/rs/zerolog"
)

type RoomService struct {
	store  domain.RoomStore
	logger *zerolog.Logger
}

func NewRoomService(store domain.RoomStore, logger *zerolog.Logger) *RoomService {
	return &RoomService{store: store, logger: logger}
}

// SyncCatalogue upserts the configured rooms. Rooms missing from the
// catalogue are deactivated, never deleted, so old bookings keep resolving.
func (s *RoomService) SyncCatalogue(ctx context.Context, rooms []*models.Room) error {
	keep := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		keep[room.ID] = true
		if err := s.store.UpsertRoom(ctx, room); err != nil {
			return err
		}
	}

	existing, err := s.store.ListRooms(ctx, false)
	if err != nil {
		return err
	}
	for _, room := range existing {
		if keep[room.ID] || !room.IsActive {
			continue
		}
		room.IsActive = false
		if err := s.store.UpsertRoom(ctx, room); err != nil {
			return err
		}
		s.logger.Info().Str("room_id", room.ID).Msg("Room deactivated, not in catalogue")
	}

	s.logger.Info().Int("rooms", len(rooms)).Msg("Room catalogue synced")
	return nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rooms, err := s.store.ListRooms(ctx, true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].SortOrder != rooms[j].SortOrder {
			return rooms[i].SortOrder < rooms[j].SortOrder
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return s.store.GetRoom(ctx, id)
}

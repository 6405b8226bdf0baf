package mongostore

import (
	"context"
	"time"

	"clinicrooms/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) UpsertRoom(ctx context.Context, room *models.Room) error {
	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now

	set := bson.M{
		"name":         room.Name,
		"description":  room.Description,
		"daily_rates":  room.DailyRates,
		"monthly_rate": room.MonthlyRate,
		"sort_order":   room.SortOrder,
		"is_active":    room.IsActive,
		"updated_at":   now,
	}
	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": room.ID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": room.CreatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return storageErr("upsert room", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var r models.Room
	if err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound("room", id, err)
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error) {
	filter := bson.M{}
	if activeOnly {
		filter["is_active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.rooms.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	var rooms []*models.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, storageErr("decode rooms", err)
	}
	return rooms, nil
}

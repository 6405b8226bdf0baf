package mongostore

import (
	"context"
	"time"

	"clinicrooms/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	set := bson.M{"updated_at": now}
	if user.Email != "" {
		set["email"] = user.Email
	}
	if user.Name != "" {
		set["name"] = user.Name
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"is_verified": false,
			"created_at":  now,
		},
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return storageErr("upsert user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound("user", id, err)
	}
	return &u, nil
}

func (s *Store) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id, "is_verified": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"is_verified": true, "verified_at": at.UTC(), "updated_at": at.UTC()}},
	)
	if err != nil {
		return false, storageErr("mark verified", err)
	}
	return res.ModifiedCount == 1, nil
}

package mongostore

import (
	"context"
	"time"

	"clinicrooms/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) EnqueueNotification(ctx context.Context, task *models.NotifyTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	task.CreatedAt = time.Now().UTC()
	if _, err := s.notifications.InsertOne(ctx, task); err != nil {
		return storageErr("enqueue notification", err)
	}
	return nil
}

func (s *Store) GetPendingNotifications(ctx context.Context, limit int) ([]*models.NotifyTask, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{models.TaskStatusPending, models.TaskStatusRetry}},
		"$or": bson.A{
			bson.M{"next_retry_at": bson.M{"$exists": false}},
			bson.M{"next_retry_at": nil},
			bson.M{"next_retry_at": bson.M{"$lte": time.Now().UTC()}},
		},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1}).SetLimit(int64(limit))
	cur, err := s.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("pending notifications", err)
	}
	var tasks []*models.NotifyTask
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, storageErr("decode notifications", err)
	}
	return tasks, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id, status, errMsg string, nextRetryAt *time.Time) error {
	set := bson.M{"status": status, "last_error": errMsg, "next_retry_at": nextRetryAt}
	update := bson.M{"$set": set}
	switch status {
	case models.TaskStatusRetry:
		update["$inc"] = bson.M{"retry_count": 1}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		set["processed_at"] = time.Now().UTC()
	}
	if _, err := s.notifications.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return storageErr("update notification", err)
	}
	return nil
}

type processedEvent struct {
	ID          string    `bson:"_id"`
	Provider    string    `bson:"provider"`
	EventID     string    `bson:"event_id"`
	EventType   string    `bson:"event_type"`
	ProcessedAt time.Time `bson:"processed_at"`
}

func (s *Store) RecordProcessedEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	doc := processedEvent{
		ID:          provider + ":" + eventID,
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, storageErr("record event", err)
	}
	return true, nil
}

func (s *Store) IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.events.CountDocuments(ctx, bson.M{"_id": provider + ":" + eventID})
	if err != nil {
		return false, storageErr("check event", err)
	}
	return n > 0, nil
}

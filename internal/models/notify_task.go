package models

import "time"

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// NotifyTask represents a queued notification job.
type NotifyTask struct {
	ID          string     `json:"id" bson:"_id"`
	TaskType    string     `json:"task_type" bson:"task_type"`
	BookingID   string     `json:"booking_id" bson:"booking_id"`
	Payload     string     `json:"payload" bson:"payload"`
	Status      string     `json:"status" bson:"status"`
	RetryCount  int        `json:"retry_count" bson:"retry_count"`
	LastError   *string    `json:"last_error" bson:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	ProcessedAt *time.Time `json:"processed_at" bson:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at" bson:"next_retry_at,omitempty"`
}

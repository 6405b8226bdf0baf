// Package mongostore implements domain.Store on MongoDB. Double-booking is
// prevented by a unique partial index over active claim documents.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicrooms/internal/domain"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	rooms         *mongo.Collection
	users         *mongo.Collection
	bookings      *mongo.Collection
	claims        *mongo.Collection
	notifications *mongo.Collection
	events        *mongo.Collection
	logger        zerolog.Logger
}

var _ domain.Store = (*Store)(nil)

func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *zerolog.Logger) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := New(client, database, logger)
	if err := s.EnsureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.logger.Info().Str("database", database).Msg("Mongo store initialized")
	return s, nil
}

func New(client *mongo.Client, database string, logger *zerolog.Logger) *Store {
	db := client.Database(database)
	return &Store{
		client:        client,
		db:            db,
		rooms:         db.Collection("rooms"),
		users:         db.Collection("users"),
		bookings:      db.Collection("bookings"),
		claims:        db.Collection("booking_claims"),
		notifications: db.Collection("notification_queue"),
		events:        db.Collection("processed_events"),
		logger:        logger.With().Str("component", "mongostore").Logger(),
	}
}

// EnsureIndexes creates the claim uniqueness index and lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	claimIdx := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "date", Value: 1}, {Key: "half", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("uq_claims_active").
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{Keys: bson.M{"booking_id": 1}, Options: options.Index().SetName("idx_claims_booking")},
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetName("idx_claims_date")},
	}
	if _, err := s.claims.Indexes().CreateMany(ctx, claimIdx); err != nil {
		return fmt.Errorf("create claim indexes: %w", err)
	}

	bookingIdx := []mongo.IndexModel{
		{Keys: bson.M{"user_id": 1}, Options: options.Index().SetName("idx_bookings_user")},
		{Keys: bson.M{"payment_intent_id": 1}, Options: options.Index().SetName("idx_bookings_intent")},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_bookings_status")},
		{Keys: bson.M{"transition_token": 1}, Options: options.Index().SetName("idx_bookings_transition").SetSparse(true)},
	}
	if _, err := s.bookings.Indexes().CreateMany(ctx, bookingIdx); err != nil {
		return fmt.Errorf("create booking indexes: %w", err)
	}

	_, err := s.notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
		Options: options.Index().SetName("idx_notification_status"),
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func storageErr(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return storageErr("get "+kind, err)
}

package models

import "time"

type User struct {
	ID         string     `json:"id" bson:"_id"`
	Email      string     `json:"email" bson:"email"`
	Name       string     `json:"name" bson:"name"`
	IsVerified bool       `json:"is_verified" bson:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" bson:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
}

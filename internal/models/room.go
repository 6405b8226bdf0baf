package models

import "time"

// SlotRates are per-date prices in cents.
type SlotRates struct {
	Full    int64 `yaml:"full" json:"full" bson:"full"`
	Morning int64 `yaml:"morning" json:"morning" bson:"morning"`
	Evening int64 `yaml:"evening" json:"evening" bson:"evening"`
}

func (r SlotRates) For(slot TimeSlot) int64 {
	switch slot {
	case SlotFull:
		return r.Full
	case SlotMorning:
		return r.Morning
	case SlotEvening:
		return r.Evening
	}
	return 0
}

type Room struct {
	ID          string    `yaml:"id" json:"id" bson:"_id"`
	Name        string    `yaml:"name" json:"name" bson:"name"`
	Description string    `yaml:"description" json:"description" bson:"description"`
	DailyRates  SlotRates `yaml:"daily_rates" json:"daily_rates" bson:"daily_rates"`
	MonthlyRate int64     `yaml:"monthly_rate" json:"monthly_rate" bson:"monthly_rate"`
	SortOrder   int64     `yaml:"sort_order" json:"sort_order" bson:"sort_order"`
	IsActive    bool      `yaml:"is_active" json:"is_active" bson:"is_active"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at" bson:"updated_at"`
}

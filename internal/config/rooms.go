package config

import (
	"fmt"
	"os"

	"clinicrooms/internal/models"

	"gopkg.in/yaml.v2"
)

type roomsFile struct {
	Rooms []*models.Room `yaml:"rooms"`
}

// LoadRooms reads the room catalogue file.
func LoadRooms(path string) ([]*models.Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}

	var file roomsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	if err := ValidateRooms(file.Rooms); err != nil {
		return nil, err
	}
	return file.Rooms, nil
}

func ValidateRooms(rooms []*models.Room) error {
	ids := make(map[string]bool)
	for _, room := range rooms {
		if room.ID == "" {
			return fmt.Errorf("room '%s' has empty id", room.Name)
		}
		if ids[room.ID] {
			return fmt.Errorf("duplicate room id found: %s", room.ID)
		}
		ids[room.ID] = true

		r := room.DailyRates
		if r.Full < 0 || r.Morning < 0 || r.Evening < 0 || room.MonthlyRate < 0 {
			return fmt.Errorf("room %s has negative rate", room.ID)
		}
		if r.Full == 0 && r.Morning == 0 && r.Evening == 0 && room.MonthlyRate == 0 {
			return fmt.Errorf("room %s has no rates", room.ID)
		}
	}
	return nil
}

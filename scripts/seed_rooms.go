package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"clinicrooms/internal/config"
	"clinicrooms/internal/database"
	"clinicrooms/internal/service"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		roomsPath = flag.String("rooms", "configs/rooms.yaml", "path to rooms.yaml")
		dbPath    = flag.String("db", "./data/clinicrooms.db", "path to sqlite db")
	)
	flag.Parse()

	rooms, err := config.LoadRooms(*roomsPath)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no rooms in %s", *roomsPath)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	before, err := db.ListRooms(ctx, false)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	if err := service.NewRoomService(db, &logger).SyncCatalogue(ctx, rooms); err != nil {
		return fmt.Errorf("sync rooms: %w", err)
	}

	known := make(map[string]bool, len(before))
	for _, r := range before {
		known[r.ID] = true
	}
	created := 0
	for _, r := range rooms {
		if !known[r.ID] {
			created++
		}
	}
	fmt.Printf("done: created=%d updated=%d\n", created, len(rooms)-created)
	return nil
}

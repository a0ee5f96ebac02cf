// Package seeder prepares the database: schema first, then reference rows.
package seeder

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/internal/kra"
)

//go:embed schema.sql
var schema string

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type RaceTrack struct {
	Track    kra.Track
	Name     string
	Location string
}

func RaceTracks() []RaceTrack {
	return []RaceTrack{
		{Track: kra.TrackSeoul, Name: "서울경마공원", Location: "경기도 과천시"},
		{Track: kra.TrackJeju, Name: "제주경마공원", Location: "제주특별자치도 제주시"},
		{Track: kra.TrackBusan, Name: "부산경남경마공원", Location: "부산광역시 강서구"},
	}
}

// SeedRaceTracks upserts the three KRA racecourses.
func SeedRaceTracks(ctx context.Context, db DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	query := `
		INSERT INTO race_tracks (code, slug, name, location)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET slug = EXCLUDED.slug, name = EXCLUDED.name, location = EXCLUDED.location
	`
	for _, t := range RaceTracks() {
		if _, err := db.Exec(ctx, query, int(t.Track), t.Track.String(), t.Name, t.Location); err != nil {
			return fmt.Errorf("failed to seed race track %s: %w", t.Track, err)
		}
	}
	logger.Info("race tracks seeded", zap.Int("count", len(RaceTracks())))
	return nil
}

package kra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type RaceDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRaceStore owns the races, horses, jockeys, trainers and race_entries
// tables.
type PostgresRaceStore struct {
	db RaceDB
}

func NewPostgresRaceStore(db RaceDB) *PostgresRaceStore {
	return &PostgresRaceStore{db: db}
}

var _ RaceStore = (*PostgresRaceStore)(nil)

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// UpsertRace leaves race_status alone on conflict so a re-synced card never
// reopens a completed race.
func (s *PostgresRaceStore) UpsertRace(ctx context.Context, r *Race) error {
	status := r.Status
	if status == "" {
		status = RaceScheduled
	}
	query := `
		INSERT INTO races (track_code, race_date, race_no, race_name, distance, surface,
			weather, track_condition, race_class, prize_money, race_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (race_date, race_no, track_code) DO UPDATE SET
			race_name = EXCLUDED.race_name,
			distance = EXCLUDED.distance,
			surface = EXCLUDED.surface,
			weather = EXCLUDED.weather,
			track_condition = EXCLUDED.track_condition,
			race_class = EXCLUDED.race_class,
			prize_money = EXCLUDED.prize_money,
			updated_at = NOW()
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		int(r.Track), r.RaceDate, r.RaceNo, nullString(r.Name), r.Distance, r.Surface,
		nullString(r.Weather), nullString(r.TrackCondition), nullString(r.Class), r.PrizeMoney, string(status),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert race: %w", err)
	}
	return nil
}

func (s *PostgresRaceStore) UpsertHorse(ctx context.Context, h *Horse) error {
	query := `
		INSERT INTO horses (registration_number, name, name_en, gender, rating, birth_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (registration_number) DO UPDATE SET
			name = EXCLUDED.name,
			name_en = COALESCE(EXCLUDED.name_en, horses.name_en),
			gender = EXCLUDED.gender,
			rating = COALESCE(EXCLUDED.rating, horses.rating),
			birth_date = COALESCE(horses.birth_date, EXCLUDED.birth_date),
			updated_at = NOW()
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		h.RegistrationNo, h.Name, nullString(h.NameEn), h.Gender, h.Rating, nullTime(h.BirthDate),
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert horse: %w", err)
	}
	return nil
}

func (s *PostgresRaceStore) UpsertJockey(ctx context.Context, j *Jockey) error {
	query := `
		INSERT INTO jockeys (license_number, name)
		VALUES ($1, $2)
		ON CONFLICT (license_number) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id
	`
	if err := s.db.QueryRow(ctx, query, j.LicenseNo, j.Name).Scan(&j.ID); err != nil {
		return fmt.Errorf("failed to upsert jockey: %w", err)
	}
	return nil
}

func (s *PostgresRaceStore) UpsertTrainer(ctx context.Context, t *Trainer) error {
	query := `
		INSERT INTO trainers (license_number, name)
		VALUES ($1, $2)
		ON CONFLICT (license_number) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id
	`
	if err := s.db.QueryRow(ctx, query, t.LicenseNo, t.Name).Scan(&t.ID); err != nil {
		return fmt.Errorf("failed to upsert trainer: %w", err)
	}
	return nil
}

// UpsertRaceEntry keeps any finishing data already recorded when the card is
// synced again.
func (s *PostgresRaceStore) UpsertRaceEntry(ctx context.Context, e *RaceEntry) error {
	query := `
		INSERT INTO race_entries (race_id, horse_id, jockey_id, trainer_id, gate_number,
			horse_weight_kg, jockey_weight_kg, odds, finish_position, finish_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (race_id, horse_id) DO UPDATE SET
			jockey_id = EXCLUDED.jockey_id,
			trainer_id = EXCLUDED.trainer_id,
			gate_number = EXCLUDED.gate_number,
			horse_weight_kg = EXCLUDED.horse_weight_kg,
			jockey_weight_kg = EXCLUDED.jockey_weight_kg,
			odds = EXCLUDED.odds,
			finish_position = COALESCE(EXCLUDED.finish_position, race_entries.finish_position),
			finish_time = COALESCE(EXCLUDED.finish_time, race_entries.finish_time),
			updated_at = NOW()
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		e.RaceID, e.HorseID, e.JockeyID, e.TrainerID, e.GateNo,
		e.HorseWeightKg, e.JockeyWeightKg, e.Odds, e.FinishPosition, e.FinishTime,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert race entry: %w", err)
	}
	return nil
}

func (s *PostgresRaceStore) RecordResults(ctx context.Context, key RaceKey, results []RaceResult) (int64, error) {
	var raceID int64
	err := s.db.QueryRow(ctx, `
		UPDATE races SET race_status = $4, updated_at = NOW()
		WHERE race_date = $1 AND race_no = $2 AND track_code = $3
		RETURNING id
	`, key.Date, key.RaceNo, int(key.Track), string(RaceCompleted)).Scan(&raceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRaceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to complete race: %w", err)
	}

	query := `
		UPDATE race_entries e
		SET finish_position = $2, finish_time = $3, updated_at = NOW()
		FROM horses h
		WHERE e.race_id = $1 AND h.id = e.horse_id
			AND (h.registration_number = $4 OR h.name = $5)
	`
	for _, r := range results {
		var pos *int
		if r.Position > 0 {
			pos = &r.Position
		}
		if _, err := s.db.Exec(ctx, query, raceID, pos, r.FinishTime, r.HorseNo, r.HorseName); err != nil {
			return raceID, fmt.Errorf("failed to record result for %s: %w", r.HorseName, err)
		}
	}
	return raceID, nil
}

// Race loads one race with its racecourse name.
func (s *PostgresRaceStore) Race(ctx context.Context, id int64) (*Race, error) {
	query := `
		SELECT r.id, r.track_code, t.name, r.race_date, r.race_no, COALESCE(r.race_name, ''),
			r.distance, r.surface, COALESCE(r.weather, ''), COALESCE(r.track_condition, ''),
			COALESCE(r.race_class, ''), COALESCE(r.prize_money, 0), r.race_status
		FROM races r
		JOIN race_tracks t ON t.code = r.track_code
		WHERE r.id = $1
	`
	var (
		r      Race
		track  int
		status string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&r.ID, &track, &r.TrackName, &r.RaceDate, &r.RaceNo, &r.Name,
		&r.Distance, &r.Surface, &r.Weather, &r.TrackCondition,
		&r.Class, &r.PrizeMoney, &status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}
	r.Track = Track(track)
	r.Status = RaceStatus(status)
	return &r, nil
}

// EntryDetail is a runner joined with its horse, jockey and trainer.
type EntryDetail struct {
	Entry   RaceEntry
	Horse   Horse
	Jockey  Jockey
	Trainer Trainer
}

// RaceEntries lists a race's runners in gate order.
func (s *PostgresRaceStore) RaceEntries(ctx context.Context, raceID int64) ([]EntryDetail, error) {
	query := `
		SELECT e.id, e.gate_number, e.horse_weight_kg, e.jockey_weight_kg, e.odds,
			e.finish_position, e.finish_time,
			h.id, h.registration_number, h.name, h.gender, h.rating, h.birth_date,
			h.total_races, h.total_wins, h.total_places, h.total_shows, h.total_earnings,
			j.id, j.license_number, j.name, j.total_races, j.total_wins, j.win_rate, j.place_rate,
			t.id, t.license_number, t.name, COALESCE(t.stable_name, ''), t.total_races, t.total_wins, t.win_rate
		FROM race_entries e
		JOIN horses h ON h.id = e.horse_id
		JOIN jockeys j ON j.id = e.jockey_id
		JOIN trainers t ON t.id = e.trainer_id
		WHERE e.race_id = $1
		ORDER BY e.gate_number ASC
	`
	rows, err := s.db.Query(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query race entries: %w", err)
	}
	defer rows.Close()

	var entries []EntryDetail
	for rows.Next() {
		var (
			d     EntryDetail
			birth *time.Time
		)
		err := rows.Scan(
			&d.Entry.ID, &d.Entry.GateNo, &d.Entry.HorseWeightKg, &d.Entry.JockeyWeightKg, &d.Entry.Odds,
			&d.Entry.FinishPosition, &d.Entry.FinishTime,
			&d.Horse.ID, &d.Horse.RegistrationNo, &d.Horse.Name, &d.Horse.Gender, &d.Horse.Rating, &birth,
			&d.Horse.TotalRaces, &d.Horse.TotalWins, &d.Horse.TotalPlaces, &d.Horse.TotalShows, &d.Horse.TotalEarnings,
			&d.Jockey.ID, &d.Jockey.LicenseNo, &d.Jockey.Name, &d.Jockey.TotalRaces, &d.Jockey.TotalWins,
			&d.Jockey.WinRate, &d.Jockey.PlaceRate,
			&d.Trainer.ID, &d.Trainer.LicenseNo, &d.Trainer.Name, &d.Trainer.Stable,
			&d.Trainer.TotalRaces, &d.Trainer.TotalWins, &d.Trainer.WinRate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race entry: %w", err)
		}
		if birth != nil {
			d.Horse.BirthDate = *birth
		}
		d.Entry.RaceID = raceID
		d.Entry.HorseID = d.Horse.ID
		d.Entry.JockeyID = d.Jockey.ID
		d.Entry.TrainerID = d.Trainer.ID
		entries = append(entries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating race entries: %w", err)
	}
	return entries, nil
}

// PastStart is one earlier run of a horse.
type PastStart struct {
	RaceDate   time.Time
	Distance   int
	Position   *int
	FinishTime *float64
	Starters   int
}

// RecentStarts returns up to limit runs before the given date, newest first.
func (s *PostgresRaceStore) RecentStarts(ctx context.Context, horseID int64, before time.Time, limit int) ([]PastStart, error) {
	query := `
		SELECT r.race_date, r.distance, e.finish_position, e.finish_time,
			(SELECT COUNT(*) FROM race_entries x WHERE x.race_id = r.id)
		FROM race_entries e
		JOIN races r ON r.id = e.race_id
		WHERE e.horse_id = $1 AND r.race_date < $2
		ORDER BY r.race_date DESC
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, horseID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent starts: %w", err)
	}
	defer rows.Close()

	var starts []PastStart
	for rows.Next() {
		var p PastStart
		if err := rows.Scan(&p.RaceDate, &p.Distance, &p.Position, &p.FinishTime, &p.Starters); err != nil {
			return nil, fmt.Errorf("failed to scan recent start: %w", err)
		}
		starts = append(starts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent starts: %w", err)
	}
	return starts, nil
}

// DistanceRecord counts a horse's starts and wins at one distance.
func (s *PostgresRaceStore) DistanceRecord(ctx context.Context, horseID int64, distance int) (starts, wins int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE e.finish_position = 1)
		FROM race_entries e
		JOIN races r ON r.id = e.race_id
		WHERE e.horse_id = $1 AND r.distance = $2
	`
	if err := s.db.QueryRow(ctx, query, horseID, distance).Scan(&starts, &wins); err != nil {
		return 0, 0, fmt.Errorf("failed to count distance record: %w", err)
	}
	return starts, wins, nil
}

// JockeyForm returns the jockey's latest finishing positions, newest first.
func (s *PostgresRaceStore) JockeyForm(ctx context.Context, jockeyID int64, limit int) ([]int, error) {
	query := `
		SELECT e.finish_position
		FROM race_entries e
		JOIN races r ON r.id = e.race_id
		WHERE e.jockey_id = $1 AND e.finish_position IS NOT NULL
		ORDER BY r.race_date DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, jockeyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jockey form: %w", err)
	}
	defer rows.Close()

	var form []int
	for rows.Next() {
		var pos int
		if err := rows.Scan(&pos); err != nil {
			return nil, fmt.Errorf("failed to scan jockey form: %w", err)
		}
		form = append(form, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jockey form: %w", err)
	}
	return form, nil
}

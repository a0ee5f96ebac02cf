package kra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrRaceNotFound = errors.New("race not found")

type RaceStatus string

const (
	RaceScheduled RaceStatus = "scheduled"
	RaceCompleted RaceStatus = "completed"
)

const (
	GenderStallion = "stallion"
	GenderMare     = "mare"
	GenderGelding  = "gelding"

	SurfaceDirt = "모래"
	SurfaceTurf = "잔디"
)

// Race is one race on a card. TrackName is only filled on reads.
type Race struct {
	ID             int64
	Track          Track
	TrackName      string
	RaceDate       time.Time
	RaceNo         int
	Name           string
	Distance       int
	Surface        string
	Weather        string
	TrackCondition string
	Class          string
	PrizeMoney     int64
	Status         RaceStatus
}

// Horse carries career totals on reads; syncs only write the identity fields.
type Horse struct {
	ID             int64
	RegistrationNo string
	Name           string
	NameEn         string
	Gender         string
	Rating         *int
	BirthDate      time.Time
	TotalRaces     int
	TotalWins      int
	TotalPlaces    int
	TotalShows     int
	TotalEarnings  int64
}

type Jockey struct {
	ID         int64
	LicenseNo  string
	Name       string
	TotalRaces int
	TotalWins  int
	WinRate    float64
	PlaceRate  float64
}

type Trainer struct {
	ID         int64
	LicenseNo  string
	Name       string
	Stable     string
	TotalRaces int
	TotalWins  int
	WinRate    float64
}

type RaceEntry struct {
	ID             int64
	RaceID         int64
	HorseID        int64
	JockeyID       int64
	TrainerID      int64
	GateNo         int
	HorseWeightKg  *float64
	JockeyWeightKg *float64
	Odds           *float64
	FinishPosition *int
	FinishTime     *float64
}

// RaceKey identifies a race the way the portal does.
type RaceKey struct {
	Track  Track
	Date   time.Time
	RaceNo int
}

// RaceResult is one finisher, matched to an entry by horse number or name.
type RaceResult struct {
	HorseNo    string
	HorseName  string
	Position   int
	FinishTime *float64
}

// RaceStore persists the relational view of synced payloads. Upserts fill in
// the ID of the value they are given.
type RaceStore interface {
	UpsertRace(ctx context.Context, r *Race) error
	UpsertHorse(ctx context.Context, h *Horse) error
	UpsertJockey(ctx context.Context, j *Jockey) error
	UpsertTrainer(ctx context.Context, t *Trainer) error
	UpsertRaceEntry(ctx context.Context, e *RaceEntry) error
	// RecordResults marks the race completed and writes finishing positions.
	// It returns ErrRaceNotFound when the race was never synced.
	RecordResults(ctx context.Context, key RaceKey, results []RaceResult) (int64, error)
}

// ResultsHook runs after a results sync wrote back at least one race.
type ResultsHook func(ctx context.Context, raceIDs []int64)

// NormalizeStats counts what a sync wrote to the race tables.
type NormalizeStats struct {
	Races   int `json:"races"`
	Entries int `json:"entries"`
	Results int `json:"results"`
	Errors  int `json:"errors"`
}

// normalizeSchedule upserts each race of the card and then its runners. Race
// cards are fetched once per race number and grouped by meet and race number,
// since one call may return runners for several races.
func (s *SyncService) normalizeSchedule(ctx context.Context, snap *Snapshot, items []json.RawMessage) {
	races, skipped := decodeItems[raceItem](items)
	snap.Stats.Errors += skipped

	cards := make(map[raceKey][]entryItem)
	seen := make(map[raceKey]map[string]bool)
	fetched := make(map[int]bool)
	for _, item := range races {
		raceNo := item.RaceNo.Int()
		if raceNo <= 0 || fetched[raceNo] {
			continue
		}
		fetched[raceNo] = true

		raw, err := s.fetcher.GetRaceEntries(ctx, snap.RaceDate, snap.Track, raceNo)
		if err != nil {
			s.logger.Error("failed to fetch race card", zap.Int("race_no", raceNo), zap.Error(err))
			snap.Stats.Errors++
			continue
		}
		list, err := Items(raw)
		if err != nil {
			s.logger.Warn("race card has unexpected shape", zap.Int("race_no", raceNo), zap.Error(err))
			snap.Stats.Errors++
			continue
		}
		entries, skipped := decodeItems[entryItem](list)
		snap.Stats.Errors += skipped
		for _, e := range entries {
			key := e.key(snap.Track)
			if seen[key] == nil {
				seen[key] = make(map[string]bool)
			}
			if seen[key][e.registrationNo()] {
				continue
			}
			seen[key][e.registrationNo()] = true
			cards[key] = append(cards[key], e)
		}
	}

	for _, item := range races {
		key := item.key(snap.Track)
		race := item.race(key.track, snap.RaceDate)
		if race.RaceNo <= 0 {
			snap.Stats.Errors++
			continue
		}
		if err := s.races.UpsertRace(ctx, &race); err != nil {
			s.logger.Error("failed to upsert race", zap.Int("race_no", race.RaceNo), zap.Error(err))
			snap.Stats.Errors++
			continue
		}
		snap.Stats.Races++
		snap.RaceIDs = append(snap.RaceIDs, race.ID)

		for _, e := range cards[key] {
			if err := s.upsertEntry(ctx, race.ID, e); err != nil {
				s.logger.Warn("failed to sync runner",
					zap.Int("race_no", race.RaceNo),
					zap.String("horse", e.HorseName.String()),
					zap.Error(err))
				snap.Stats.Errors++
				continue
			}
			snap.Stats.Entries++
		}
	}
}

func (s *SyncService) upsertEntry(ctx context.Context, raceID int64, e entryItem) error {
	horse := e.horse(time.Now())
	if horse.RegistrationNo == "" {
		return errors.New("missing horse number")
	}
	if e.JockeyNo == "" || e.TrainerNo == "" {
		return errors.New("missing jockey or trainer number")
	}
	if err := s.races.UpsertHorse(ctx, &horse); err != nil {
		return fmt.Errorf("upsert horse: %w", err)
	}
	jockey := Jockey{LicenseNo: e.JockeyNo.String(), Name: e.JockeyName.String()}
	if err := s.races.UpsertJockey(ctx, &jockey); err != nil {
		return fmt.Errorf("upsert jockey: %w", err)
	}
	trainer := Trainer{LicenseNo: e.TrainerNo.String(), Name: e.TrainerName.String()}
	if err := s.races.UpsertTrainer(ctx, &trainer); err != nil {
		return fmt.Errorf("upsert trainer: %w", err)
	}
	entry := e.entry(raceID, horse.ID, jockey.ID, trainer.ID)
	if err := s.races.UpsertRaceEntry(ctx, &entry); err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// normalizeResults writes finishing positions back race by race and hands the
// touched race ids to the results hook.
func (s *SyncService) normalizeResults(ctx context.Context, snap *Snapshot, items []json.RawMessage) {
	rows, skipped := decodeItems[resultItem](items)
	snap.Stats.Errors += skipped

	var order []raceKey
	grouped := make(map[raceKey][]RaceResult)
	for _, row := range rows {
		key := row.key(snap.Track)
		if key.raceNo <= 0 {
			snap.Stats.Errors++
			continue
		}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], row.result())
	}

	for _, key := range order {
		results := grouped[key]
		raceID, err := s.races.RecordResults(ctx, RaceKey{Track: key.track, Date: snap.RaceDate, RaceNo: key.raceNo}, results)
		if errors.Is(err, ErrRaceNotFound) {
			s.logger.Warn("results for a race that was never synced",
				zap.Stringer("track", key.track),
				zap.Int("race_no", key.raceNo))
			continue
		}
		if err != nil {
			s.logger.Error("failed to record race results", zap.Int("race_no", key.raceNo), zap.Error(err))
			snap.Stats.Errors++
			continue
		}
		snap.Stats.Results += len(results)
		snap.RaceIDs = append(snap.RaceIDs, raceID)
	}

	if len(snap.RaceIDs) > 0 && s.onResults != nil {
		s.onResults(ctx, snap.RaceIDs)
	}
}

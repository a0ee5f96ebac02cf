package kra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SyncKind selects which dataset a sync pulls.
type SyncKind string

const (
	SyncSchedule SyncKind = "schedule"
	SyncResults  SyncKind = "results"
)

func ParseSyncKind(s string) (SyncKind, error) {
	switch SyncKind(s) {
	case SyncSchedule, SyncResults:
		return SyncKind(s), nil
	}
	return "", fmt.Errorf("kra: unknown sync kind %q", s)
}

const (
	defaultPageNo    = 1
	defaultNumOfRows = 10
)

// Snapshot is a raw API payload captured by a sync run. When a RaceStore is
// configured, RaceIDs and Stats describe what was written to the race tables.
type Snapshot struct {
	ID        int64
	Kind      SyncKind
	Track     Track
	RaceDate  time.Time
	Payload   json.RawMessage
	ItemCount int
	FetchedAt time.Time
	RaceIDs   []int64
	Stats     NormalizeStats
}

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
}

type SyncService struct {
	fetcher   Fetcher
	store     SnapshotStore
	races     RaceStore
	onResults ResultsHook
	logger    *zap.Logger
	numOfRows int
}

type SyncOption func(*SyncService)

// WithRaceStore normalizes every synced payload into the race tables.
func WithRaceStore(races RaceStore) SyncOption {
	return func(s *SyncService) { s.races = races }
}

// WithResultsHook is told which races a results sync completed.
func WithResultsHook(hook ResultsHook) SyncOption {
	return func(s *SyncService) { s.onResults = hook }
}

// NewSyncService wires a fetcher to an optional snapshot store. A nil store
// turns persistence off.
func NewSyncService(fetcher Fetcher, store SnapshotStore, logger *zap.Logger, opts ...SyncOption) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncService{
		fetcher:   fetcher,
		store:     store,
		logger:    logger.With(zap.String("component", "kra_sync")),
		numOfRows: defaultNumOfRows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncService) SyncRaceSchedule(ctx context.Context, date time.Time, track Track) (*Snapshot, error) {
	s.logger.Info("syncing race schedule", zap.String("race_date", FormatDate(date)), zap.Stringer("track", track))

	raw, err := s.fetcher.GetRaceSchedule(ctx, date, track, defaultPageNo, s.numOfRows)
	if err != nil {
		s.logger.Error("failed to sync race schedule", zap.Error(err))
		return nil, fmt.Errorf("sync race schedule: %w", err)
	}
	snap, items, err := s.record(ctx, SyncSchedule, date, track, raw)
	if err != nil {
		return nil, err
	}
	if s.races != nil {
		s.normalizeSchedule(ctx, snap, items)
		s.logNormalized(snap)
	}
	return snap, nil
}

func (s *SyncService) SyncRaceResults(ctx context.Context, date time.Time, track Track) (*Snapshot, error) {
	s.logger.Info("syncing race results", zap.String("race_date", FormatDate(date)), zap.Stringer("track", track))

	raw, err := s.fetcher.GetRaceResults(ctx, date, track, nil, defaultPageNo, s.numOfRows)
	if err != nil {
		s.logger.Error("failed to sync race results", zap.Error(err))
		return nil, fmt.Errorf("sync race results: %w", err)
	}
	snap, items, err := s.record(ctx, SyncResults, date, track, raw)
	if err != nil {
		return nil, err
	}
	if s.races != nil {
		s.normalizeResults(ctx, snap, items)
		s.logNormalized(snap)
	}
	return snap, nil
}

// SyncDate runs one kind of sync for each track in turn. Failures on one track
// do not stop the others; they are joined into the returned error.
func (s *SyncService) SyncDate(ctx context.Context, date time.Time, kind SyncKind, tracks []Track) ([]*Snapshot, error) {
	if len(tracks) == 0 {
		tracks = AllTracks()
	}

	var snapshots []*Snapshot
	var errs []error
	for _, track := range tracks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var snap *Snapshot
		var err error
		switch kind {
		case SyncSchedule:
			snap, err = s.SyncRaceSchedule(ctx, date, track)
		case SyncResults:
			snap, err = s.SyncRaceResults(ctx, date, track)
		default:
			return nil, fmt.Errorf("kra: unknown sync kind %q", kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", track, err))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, errors.Join(errs...)
}

func (s *SyncService) record(ctx context.Context, kind SyncKind, date time.Time, track Track, raw json.RawMessage) (*Snapshot, []json.RawMessage, error) {
	snap := &Snapshot{
		Kind:      kind,
		Track:     track,
		RaceDate:  date,
		Payload:   raw,
		FetchedAt: time.Now().UTC(),
	}

	if code, msg, err := ResultCode(raw); err == nil && code != "" && code != ResultCodeOK {
		s.logger.Warn("kra api returned non-ok result code",
			zap.String("result_code", code),
			zap.String("result_msg", msg))
	}

	items, err := Items(raw)
	if err != nil {
		s.logger.Warn("kra payload has unexpected shape", zap.Error(err))
	}
	snap.ItemCount = len(items)

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Error("failed to save kra snapshot", zap.Error(err))
			return nil, nil, fmt.Errorf("save %s snapshot: %w", kind, err)
		}
	}

	s.logger.Info("synced kra data",
		zap.String("kind", string(kind)),
		zap.Stringer("track", track),
		zap.Int("items", snap.ItemCount))
	return snap, items, nil
}

func (s *SyncService) logNormalized(snap *Snapshot) {
	s.logger.Info("normalized kra data",
		zap.String("kind", string(snap.Kind)),
		zap.Stringer("track", snap.Track),
		zap.Int("races", snap.Stats.Races),
		zap.Int("entries", snap.Stats.Entries),
		zap.Int("results", snap.Stats.Results),
		zap.Int("errors", snap.Stats.Errors))
}

package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("prediction not found")
	ErrCacheMiss = errors.New("prediction cache miss")
)

// Record is a stored prediction for one race and bet type.
type Record struct {
	ID           string    `json:"id"`
	RaceID       int64     `json:"race_id"`
	Kind         Kind      `json:"prediction_type"`
	ModelVersion string    `json:"model_version"`
	Envelope     *Envelope `json:"prediction"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Record) UnmarshalBinary(b []byte) error {
	return json.Unmarshal(b, r)
}

// Predictor is the model-facing half of the service.
type Predictor interface {
	GeneratePrediction(ctx context.Context, raceContext any, kind Kind, systemPrompt string) (*Envelope, error)
	ModelVersion() string
}

type Store interface {
	Save(ctx context.Context, r *Record) error
	Latest(ctx context.Context, raceID int64, kind Kind) (*Record, error)
	ListByRace(ctx context.Context, raceID int64) ([]*Record, error)
}

type Cache interface {
	Get(ctx context.Context, raceID int64, kind Kind) (*Record, error)
	Set(ctx context.Context, r *Record) error
	Invalidate(ctx context.Context, raceID int64) error
}

// GenerateInput describes one prediction request.
type GenerateInput struct {
	RaceID       int64
	Kind         Kind
	RaceContext  any
	SystemPrompt string
	// Refresh skips the cache lookup.
	Refresh bool
}

type Service struct {
	predictor Predictor
	store     Store
	cache     Cache
	logger    *zap.Logger
}

// NewService accepts nil store or cache to run without persistence or caching.
func NewService(predictor Predictor, store Store, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		predictor: predictor,
		store:     store,
		cache:     cache,
		logger:    logger.With(zap.String("component", "prediction_service")),
	}
}

// Generate answers from the cache when possible, otherwise asks the model and
// stores the result. Parse failures are stored but never cached.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Record, error) {
	// a custom persona changes the answer, so only default-prompt results are shared
	useCache := s.cache != nil && in.SystemPrompt == ""

	if useCache && !in.Refresh {
		rec, err := s.cache.Get(ctx, in.RaceID, in.Kind)
		if err == nil {
			s.logger.Debug("prediction cache hit", zap.Int64("race_id", in.RaceID), zap.String("prediction_type", string(in.Kind)))
			return rec, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("prediction cache lookup failed", zap.Error(err))
		}
	}

	env, err := s.predictor.GeneratePrediction(ctx, in.RaceContext, in.Kind, in.SystemPrompt)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:           uuid.NewString(),
		RaceID:       in.RaceID,
		Kind:         in.Kind,
		ModelVersion: s.predictor.ModelVersion(),
		Envelope:     env,
		Confidence:   env.Confidence(),
		CreatedAt:    time.Now().UTC(),
	}

	if s.store != nil {
		if err := s.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("save prediction: %w", err)
		}
	}

	if useCache && env.OK() {
		if err := s.cache.Set(ctx, rec); err != nil {
			s.logger.Warn("failed to cache prediction", zap.Error(err))
		}
	}

	return rec, nil
}

// Get returns the newest prediction for a race and kind.
func (s *Service) Get(ctx context.Context, raceID int64, kind Kind) (*Record, error) {
	if s.cache != nil {
		if rec, err := s.cache.Get(ctx, raceID, kind); err == nil {
			return rec, nil
		}
	}
	if s.store == nil {
		return nil, ErrNotFound
	}
	return s.store.Latest(ctx, raceID, kind)
}

func (s *Service) List(ctx context.Context, raceID int64) ([]*Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListByRace(ctx, raceID)
}

// Invalidate drops every cached prediction for the race.
func (s *Service) Invalidate(ctx context.Context, raceID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, raceID)
}

// InvalidateRaces drops cached predictions for races whose results just
// arrived. Failures are logged; the stored rows stay authoritative.
func (s *Service) InvalidateRaces(ctx context.Context, raceIDs []int64) {
	for _, id := range raceIDs {
		if err := s.Invalidate(ctx, id); err != nil {
			s.logger.Warn("failed to invalidate prediction cache", zap.Int64("race_id", id), zap.Error(err))
		}
	}
}

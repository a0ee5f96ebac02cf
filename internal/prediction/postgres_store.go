package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	payload, err := json.Marshal(r.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}

	query := `
		INSERT INTO predictions (id, race_id, prediction_type, model_version, prediction, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.Exec(ctx, query,
		r.ID, r.RaceID, string(r.Kind), r.ModelVersion, string(payload), r.Confidence, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	return nil
}

const selectColumns = `id, race_id, prediction_type, model_version, prediction, confidence, created_at`

func (s *PostgresStore) Latest(ctx context.Context, raceID int64, kind Kind) (*Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM predictions
		WHERE race_id = $1 AND prediction_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, raceID, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByRace(ctx context.Context, raceID int64) ([]*Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM predictions
		WHERE race_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r       Record
		kind    string
		payload []byte
	)
	if err := row.Scan(&r.ID, &r.RaceID, &kind, &r.ModelVersion, &payload, &r.Confidence, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)
	r.Envelope = &Envelope{}
	if err := json.Unmarshal(payload, r.Envelope); err != nil {
		return nil, fmt.Errorf("decode prediction payload: %w", err)
	}
	return &r, nil
}

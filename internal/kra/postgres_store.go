package kra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresSnapshotStore struct {
	db DB
}

func NewPostgresSnapshotStore(db DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	query := `
		INSERT INTO kra_snapshots (kind, track_code, race_date, payload, item_count, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		string(snap.Kind), int(snap.Track), snap.RaceDate, string(snap.Payload), snap.ItemCount, snap.FetchedAt,
	).Scan(&snap.ID)

	if err != nil {
		return fmt.Errorf("failed to save kra snapshot: %w", err)
	}

	return nil
}

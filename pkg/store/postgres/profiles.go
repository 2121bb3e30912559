package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// Profiles implements [store.ProfileStore].
func (s *Store) Profiles(ctx context.Context, deviceID string) ([]store.SoundProfile, error) {
	const q = `
		SELECT id, device_id, name, polarity, samples, centroid, threshold, created_at
		FROM   sound_profiles
		WHERE  device_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, deviceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profiles: %w", err)
	}

	profiles, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan profiles: %w", err)
	}
	if profiles == nil {
		profiles = []store.SoundProfile{}
	}
	return profiles, nil
}

func scanProfile(row pgx.CollectableRow) (store.SoundProfile, error) {
	var (
		p        store.SoundProfile
		centroid *pgvector.Vector
	)
	if err := row.Scan(
		&p.ID,
		&p.DeviceID,
		&p.Name,
		&p.Polarity,
		&p.Samples,
		&centroid,
		&p.Threshold,
		&p.CreatedAt,
	); err != nil {
		return store.SoundProfile{}, err
	}
	if centroid != nil {
		p.Centroid = centroid.Slice()
	}
	return p, nil
}

// UpsertProfile implements [store.ProfileStore]. When a profile with the same
// (device, name) exists its sample set is extended and the centroid is
// recomputed from the merged samples inside a single transaction; a concurrent
// reader sees either the old profile or the new one, never a half-updated
// centroid.
func (s *Store) UpsertProfile(ctx context.Context, p *store.SoundProfile) error {
	if p.DeviceID == "" || p.Name == "" {
		return fmt.Errorf("postgres: upsert profile: device id and name are required")
	}
	if !p.Polarity.IsValid() {
		return fmt.Errorf("postgres: upsert profile: invalid polarity %q", p.Polarity)
	}
	if p.Threshold <= 0 {
		p.Threshold = store.DefaultThreshold
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert profile: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Merge with any existing sample set for this (device, name).
	var (
		existingID      string
		existingSamples [][]float32
		existingCreated time.Time
	)
	const sel = `
		SELECT id, samples, created_at
		FROM   sound_profiles
		WHERE  device_id = $1 AND name = $2
		FOR UPDATE`
	err = tx.QueryRow(ctx, sel, p.DeviceID, p.Name).Scan(&existingID, &existingSamples, &existingCreated)
	switch {
	case err == nil:
		p.ID = existingID
		p.CreatedAt = existingCreated
		p.Samples = append(existingSamples, p.Samples...)
	case errors.Is(err, pgx.ErrNoRows):
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.CreatedAt = time.Now().UTC()
	default:
		return fmt.Errorf("postgres: upsert profile: select existing: %w", err)
	}

	// The stored centroid is always derived from the full sample set.
	p.Centroid = store.Centroid(p.Samples)

	var centroid *pgvector.Vector
	if p.Centroid != nil {
		v := pgvector.NewVector(p.Centroid)
		centroid = &v
	}

	const up = `
		INSERT INTO sound_profiles (id, device_id, name, polarity, samples, centroid, threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id, name) DO UPDATE SET
		    polarity  = EXCLUDED.polarity,
		    samples   = EXCLUDED.samples,
		    centroid  = EXCLUDED.centroid,
		    threshold = EXCLUDED.threshold`
	if _, err := tx.Exec(ctx, up,
		p.ID, p.DeviceID, p.Name, p.Polarity, p.Samples, centroid, p.Threshold, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert profile: commit: %w", err)
	}
	return nil
}

// DeleteProfile implements [store.ProfileStore].
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sound_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// defaultDetectionLimit bounds history queries when the caller passes a
// non-positive limit.
const defaultDetectionLimit = 1000

// AppendDetection implements [store.DetectionStore].
func (s *Store) AppendDetection(ctx context.Context, rec *store.DetectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var embedding *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		embedding = &v
	}

	const q = `
		INSERT INTO detections
		    (id, device_id, label, confidence, is_custom, custom_polarity, should_notify, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.DeviceID,
		rec.Label,
		rec.Confidence,
		rec.IsCustom,
		string(rec.CustomPolarity),
		rec.ShouldNotify,
		embedding,
		rec.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: append detection: %w", err)
	}
	return nil
}

// Detections implements [store.DetectionStore].
func (s *Store) Detections(ctx context.Context, deviceID string, limit int) ([]store.DetectionRecord, int, error) {
	if limit <= 0 {
		limit = defaultDetectionLimit
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM detections WHERE device_id = $1`, deviceID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count detections: %w", err)
	}

	const q = `
		SELECT id, device_id, label, confidence, is_custom, custom_polarity, should_notify, embedding, timestamp
		FROM   detections
		WHERE  device_id = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, deviceID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list detections: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DetectionRecord, error) {
		var (
			r         store.DetectionRecord
			polarity  string
			embedding *pgvector.Vector
		)
		if err := row.Scan(
			&r.ID,
			&r.DeviceID,
			&r.Label,
			&r.Confidence,
			&r.IsCustom,
			&polarity,
			&r.ShouldNotify,
			&embedding,
			&r.Timestamp,
		); err != nil {
			return store.DetectionRecord{}, err
		}
		r.CustomPolarity = store.Polarity(polarity)
		if embedding != nil {
			r.Embedding = embedding.Slice()
		}
		return r, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: scan detections: %w", err)
	}
	if recs == nil {
		recs = []store.DetectionRecord{}
	}
	return recs, total, nil
}

// PurgeDetections implements [store.DetectionStore].
func (s *Store) PurgeDetections(ctx context.Context, deviceID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM detections WHERE device_id = $1`, deviceID)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge detections: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

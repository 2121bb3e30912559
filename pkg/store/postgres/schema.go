// Package postgres provides the PostgreSQL-backed implementation of the
// Sentinel persistence contracts (sound profiles, policy entries, detection
// history, device inventory).
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS. Profile centroids and detection embeddings
// are stored in vector columns so the data stays queryable with pgvector
// operators even though in-process matching scans profiles directly.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1024)
//	if err != nil { … }
//	defer st.Close()
//
//	profiles, _ := st.Profiles(ctx, deviceID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id              TEXT         PRIMARY KEY,
    name            TEXT         NOT NULL,
    ip_address      TEXT         NOT NULL DEFAULT '',
    mac_address     TEXT         NOT NULL UNIQUE,
    model           TEXT         NOT NULL DEFAULT 'Unknown',
    model_image_url TEXT         NOT NULL DEFAULT '',
    microphone_info TEXT         NOT NULL DEFAULT '',
    wifi_signal     INTEGER      NOT NULL DEFAULT 0,
    status          TEXT         NOT NULL DEFAULT 'offline',
    last_seen       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_devices_last_seen
    ON devices (last_seen DESC);
`

// ddlProfiles returns the sound profile DDL with the embedding dimension
// substituted. Training-sample embeddings are stored as JSONB (variable count
// per profile); the derived centroid is a pgvector column.
func ddlProfiles(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS sound_profiles (
    id          TEXT              PRIMARY KEY,
    device_id   TEXT              NOT NULL,
    name        TEXT              NOT NULL,
    polarity    TEXT              NOT NULL CHECK (polarity IN ('specific', 'excluded')),
    samples     JSONB             NOT NULL DEFAULT '[]',
    centroid    vector(%d),
    threshold   DOUBLE PRECISION  NOT NULL DEFAULT 0.75,
    created_at  TIMESTAMPTZ       NOT NULL DEFAULT now(),
    UNIQUE (device_id, name)
);

CREATE INDEX IF NOT EXISTS idx_sound_profiles_device
    ON sound_profiles (device_id);
`, embeddingDimensions)
}

// Policy entries are keyed by (device_id, lower(label)) so the database
// itself enforces the mutual-exclusion invariant: a label can only ever be
// present under one kind per device.
const ddlPolicyEntries = `
CREATE TABLE IF NOT EXISTS policy_entries (
    device_id   TEXT         NOT NULL,
    label_key   TEXT         NOT NULL,
    label       TEXT         NOT NULL,
    kind        TEXT         NOT NULL CHECK (kind IN ('priority', 'excluded')),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (device_id, label_key)
);

CREATE INDEX IF NOT EXISTS idx_policy_entries_device_kind
    ON policy_entries (device_id, kind);
`

func ddlDetections(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS detections (
    id              TEXT              PRIMARY KEY,
    device_id       TEXT              NOT NULL,
    label           TEXT              NOT NULL,
    confidence      DOUBLE PRECISION  NOT NULL,
    is_custom       BOOLEAN           NOT NULL DEFAULT FALSE,
    custom_polarity TEXT              NOT NULL DEFAULT '',
    should_notify   BOOLEAN           NOT NULL DEFAULT FALSE,
    embedding       vector(%d),
    timestamp       TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_device_timestamp
    ON detections (device_id, timestamp DESC);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the classifier model configured for the
// deployment (1024 for YAMNet). Changing it after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlDevices,
		ddlProfiles(embeddingDimensions),
		ddlPolicyEntries,
		ddlDetections(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// PolicySets implements [store.PolicyStore].
func (s *Store) PolicySets(ctx context.Context, deviceID string) (store.PolicySets, error) {
	const q = `
		SELECT label, kind
		FROM   policy_entries
		WHERE  device_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, deviceID)
	if err != nil {
		return store.PolicySets{}, fmt.Errorf("postgres: policy sets: %w", err)
	}
	defer rows.Close()

	sets := store.PolicySets{Priority: []string{}, Excluded: []string{}}
	for rows.Next() {
		var label string
		var kind store.PolicyKind
		if err := rows.Scan(&label, &kind); err != nil {
			return store.PolicySets{}, fmt.Errorf("postgres: scan policy entry: %w", err)
		}
		switch kind {
		case store.KindPriority:
			sets.Priority = append(sets.Priority, label)
		case store.KindExcluded:
			sets.Excluded = append(sets.Excluded, label)
		}
	}
	if err := rows.Err(); err != nil {
		return store.PolicySets{}, fmt.Errorf("postgres: policy sets: %w", err)
	}
	return sets, nil
}

// AddPolicy implements [store.PolicyStore]. The primary key on
// (device_id, lower(label)) makes the opposite-kind eviction a single upsert:
// the row's kind is flipped in place, so no interleaving can expose the label
// under both kinds.
func (s *Store) AddPolicy(ctx context.Context, deviceID, name string, kind store.PolicyKind) error {
	if name == "" {
		return fmt.Errorf("postgres: add policy: label is required")
	}
	if !kind.IsValid() {
		return fmt.Errorf("postgres: add policy: invalid kind %q", kind)
	}

	const q = `
		INSERT INTO policy_entries (device_id, label_key, label, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, label_key) DO UPDATE SET
		    label      = EXCLUDED.label,
		    kind       = EXCLUDED.kind,
		    created_at = now()`
	if _, err := s.pool.Exec(ctx, q, deviceID, strings.ToLower(name), name, kind); err != nil {
		return fmt.Errorf("postgres: add policy: %w", err)
	}
	return nil
}

// RemovePolicy implements [store.PolicyStore].
func (s *Store) RemovePolicy(ctx context.Context, deviceID, name string, kind store.PolicyKind) error {
	const q = `
		DELETE FROM policy_entries
		WHERE  device_id = $1 AND label_key = $2 AND kind = $3`
	if _, err := s.pool.Exec(ctx, q, deviceID, strings.ToLower(name), kind); err != nil {
		return fmt.Errorf("postgres: remove policy: %w", err)
	}
	return nil
}

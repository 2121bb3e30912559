// Package matcher compares segment embeddings against a device's trained
// sound profiles and selects the single closest profile.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// Match is the profile closest to the probe embedding. Whether the
// similarity clears the profile's threshold is the caller's decision; the
// matcher only ranks.
type Match struct {
	Profile    store.SoundProfile
	Similarity float64
}

// Matcher scans a device's profiles for the best match. Each scan reads a
// fresh profile snapshot, so profiles added or retrained between scans take
// effect on the next segment.
type Matcher struct {
	profiles store.ProfileStore
	log      *slog.Logger
}

// New creates a Matcher reading profiles from ps.
func New(ps store.ProfileStore, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{profiles: ps, log: log}
}

// FindBestMatch returns the profile with the highest similarity to
// embedding, regardless of the profile's own threshold, or nil when no
// comparable profile exists. A strong match that later fails its threshold
// still shadows every weaker profile, so per-profile acceptance must stay
// out of the scan. Ties keep the earlier profile in snapshot order.
// Profiles with missing or dimension-mismatched centroids are skipped so one
// corrupt profile cannot blind the scan to the rest.
func (m *Matcher) FindBestMatch(ctx context.Context, deviceID string, embedding []float32) (*Match, error) {
	profiles, err := m.profiles.Profiles(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("matcher: load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	var best *Match
	for i := range profiles {
		p := &profiles[i]
		if len(p.Centroid) == 0 || len(p.Centroid) != len(embedding) {
			m.log.Warn("skipping profile with unusable centroid",
				"profile", p.ID,
				"name", p.Name,
				"centroid_dims", len(p.Centroid),
				"embedding_dims", len(embedding),
			)
			continue
		}

		sim := CosineSimilarity(embedding, p.Centroid)
		if math.IsNaN(sim) {
			m.log.Warn("skipping profile with non-numeric similarity", "profile", p.ID, "name", p.Name)
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{Profile: *p, Similarity: sim}
		}
	}
	return best, nil
}

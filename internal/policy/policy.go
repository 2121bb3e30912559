// Package policy decides whether a detection should notify the user.
//
// Precedence is fixed: a matched custom sound's polarity wins outright, then
// the device's excluded set, then its priority set, and anything else is
// denied. Label comparison is case-insensitive everywhere.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// Decide applies the notification precedence to a resolved label.
// isCustom and polarity describe the custom-sound match, if any.
func Decide(sets store.PolicySets, label string, isCustom bool, polarity store.Polarity) bool {
	if isCustom {
		return polarity == store.PolaritySpecific
	}
	if containsFold(sets.Excluded, label) {
		return false
	}
	return containsFold(sets.Priority, label)
}

func containsFold(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Resolver fetches a device's policy sets and applies [Decide].
type Resolver struct {
	policies store.PolicyStore
}

// NewResolver creates a Resolver reading policy sets from ps.
func NewResolver(ps store.PolicyStore) *Resolver {
	return &Resolver{policies: ps}
}

// Snapshot returns the device's current policy sets. Callers that need the
// sets for more than one decision should take one snapshot and pass it to
// [Decide] directly.
func (r *Resolver) Snapshot(ctx context.Context, deviceID string) (store.PolicySets, error) {
	sets, err := r.policies.PolicySets(ctx, deviceID)
	if err != nil {
		return store.PolicySets{}, fmt.Errorf("policy: load sets: %w", err)
	}
	return sets, nil
}

// ShouldNotify reports whether a detection of label on deviceID should raise
// a notification. The policy sets are fetched once per call; the answer is a
// pure function of that snapshot.
func (r *Resolver) ShouldNotify(ctx context.Context, deviceID, label string, isCustom bool, polarity store.Polarity) (bool, error) {
	sets, err := r.policies.PolicySets(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("policy: load sets: %w", err)
	}
	return Decide(sets, label, isCustom, polarity), nil
}

// Package mock provides an in-memory [store.Store] for tests.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// Store is an in-memory implementation of [store.Store]. The zero value is
// not usable; create instances with [NewStore]. Safe for concurrent use.
//
// Every method can be forced to fail by setting the corresponding Err field
// before the call.
type Store struct {
	mu         sync.Mutex
	profiles   map[string]store.SoundProfile // keyed by profile ID
	policies   map[string]store.PolicyKind   // keyed by deviceID + "\x00" + lower(label)
	labels     map[string]string             // same key -> original label casing
	detections []store.DetectionRecord
	devices    map[string]store.Device // keyed by device ID

	ProfilesErr  error
	UpsertErr    error
	PolicyErr    error
	DetectionErr error
	DeviceErr    error
}

var _ store.Store = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]store.SoundProfile),
		policies: make(map[string]store.PolicyKind),
		labels:   make(map[string]string),
		devices:  make(map[string]store.Device),
	}
}

// Profiles implements [store.ProfileStore].
func (s *Store) Profiles(_ context.Context, deviceID string) ([]store.SoundProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProfilesErr != nil {
		return nil, s.ProfilesErr
	}

	out := []store.SoundProfile{}
	for _, p := range s.profiles {
		if p.DeviceID == deviceID {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertProfile implements [store.ProfileStore].
func (s *Store) UpsertProfile(_ context.Context, p *store.SoundProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}

	for id, existing := range s.profiles {
		if existing.DeviceID == p.DeviceID && existing.Name == p.Name {
			existing.Samples = append(existing.Samples, p.Samples...)
			existing.Polarity = p.Polarity
			if p.Threshold > 0 {
				existing.Threshold = p.Threshold
			}
			existing.Centroid = store.Centroid(existing.Samples)
			s.profiles[id] = existing
			*p = cloneProfile(existing)
			return nil
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Threshold == 0 {
		p.Threshold = store.DefaultThreshold
	}
	p.CreatedAt = time.Now().UTC()
	p.Centroid = store.Centroid(p.Samples)
	s.profiles[p.ID] = cloneProfile(*p)
	return nil
}

// DeleteProfile implements [store.ProfileStore].
func (s *Store) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if _, ok := s.profiles[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.profiles, id)
	return nil
}

// PolicySets implements [store.PolicyStore].
func (s *Store) PolicySets(_ context.Context, deviceID string) (store.PolicySets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PolicyErr != nil {
		return store.PolicySets{}, s.PolicyErr
	}

	sets := store.PolicySets{Priority: []string{}, Excluded: []string{}}
	prefix := deviceID + "\x00"
	for key, kind := range s.policies {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		label := s.labels[key]
		switch kind {
		case store.KindPriority:
			sets.Priority = append(sets.Priority, label)
		case store.KindExcluded:
			sets.Excluded = append(sets.Excluded, label)
		}
	}
	sort.Strings(sets.Priority)
	sort.Strings(sets.Excluded)
	return sets, nil
}

// AddPolicy implements [store.PolicyStore].
func (s *Store) AddPolicy(_ context.Context, deviceID, name string, kind store.PolicyKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PolicyErr != nil {
		return s.PolicyErr
	}
	key := deviceID + "\x00" + strings.ToLower(name)
	s.policies[key] = kind
	s.labels[key] = name
	return nil
}

// RemovePolicy implements [store.PolicyStore].
func (s *Store) RemovePolicy(_ context.Context, deviceID, name string, kind store.PolicyKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PolicyErr != nil {
		return s.PolicyErr
	}
	key := deviceID + "\x00" + strings.ToLower(name)
	if s.policies[key] == kind {
		delete(s.policies, key)
		delete(s.labels, key)
	}
	return nil
}

// AppendDetection implements [store.DetectionStore].
func (s *Store) AppendDetection(_ context.Context, rec *store.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DetectionErr != nil {
		return s.DetectionErr
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.detections = append(s.detections, *rec)
	return nil
}

// Detections implements [store.DetectionStore].
func (s *Store) Detections(_ context.Context, deviceID string, limit int) ([]store.DetectionRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DetectionErr != nil {
		return nil, 0, s.DetectionErr
	}

	matched := []store.DetectionRecord{}
	for _, rec := range s.detections {
		if rec.DeviceID == deviceID {
			matched = append(matched, rec)
		}
	}
	total := len(matched)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// PurgeDetections implements [store.DetectionStore].
func (s *Store) PurgeDetections(_ context.Context, deviceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DetectionErr != nil {
		return 0, s.DetectionErr
	}

	kept := s.detections[:0]
	removed := 0
	for _, rec := range s.detections {
		if rec.DeviceID == deviceID {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.detections = kept
	return removed, nil
}

// RegisterDevice implements [store.DeviceStore].
func (s *Store) RegisterDevice(_ context.Context, d *store.Device) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeviceErr != nil {
		return false, s.DeviceErr
	}

	d.Status = "online"
	d.LastSeen = time.Now().UTC()

	for id, existing := range s.devices {
		if existing.MACAddress == d.MACAddress {
			d.ID = id
			d.CreatedAt = existing.CreatedAt
			s.devices[id] = *d
			return false, nil
		}
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	s.devices[d.ID] = *d
	return true, nil
}

// Devices implements [store.DeviceStore].
func (s *Store) Devices(_ context.Context) ([]store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeviceErr != nil {
		return nil, s.DeviceErr
	}

	out := make([]store.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

// UpdateDevice implements [store.DeviceStore].
func (s *Store) UpdateDevice(_ context.Context, d *store.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeviceErr != nil {
		return s.DeviceErr
	}

	existing, ok := s.devices[d.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.WiFiSignal = d.WiFiSignal
	if d.MicrophoneInfo != "" {
		existing.MicrophoneInfo = d.MicrophoneInfo
	}
	existing.Status = "online"
	if d.LastSeen.IsZero() {
		existing.LastSeen = time.Now().UTC()
	} else {
		existing.LastSeen = d.LastSeen
	}
	s.devices[d.ID] = existing
	return nil
}

// DeleteDevice implements [store.DeviceStore].
func (s *Store) DeleteDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeviceErr != nil {
		return s.DeviceErr
	}
	if _, ok := s.devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.devices, id)

	for pid, p := range s.profiles {
		if p.DeviceID == id {
			delete(s.profiles, pid)
		}
	}
	prefix := id + "\x00"
	for key := range s.policies {
		if strings.HasPrefix(key, prefix) {
			delete(s.policies, key)
			delete(s.labels, key)
		}
	}
	kept := s.detections[:0]
	for _, rec := range s.detections {
		if rec.DeviceID != id {
			kept = append(kept, rec)
		}
	}
	s.detections = kept
	return nil
}

func cloneProfile(p store.SoundProfile) store.SoundProfile {
	out := p
	out.Samples = make([][]float32, len(p.Samples))
	for i, sample := range p.Samples {
		out.Samples[i] = append([]float32(nil), sample...)
	}
	out.Centroid = append([]float32(nil), p.Centroid...)
	return out
}

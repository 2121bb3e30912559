package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/soundsentinel/sentinel/pkg/classify"
)

// ErrClassifierNotRegistered is returned by [Registry.CreateClassifier] when
// no factory has been registered under the requested name.
var ErrClassifierNotRegistered = errors.New("config: classifier not registered")

// Registry maps classifier names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]func(ClassifierConfig) (classify.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[string]func(ClassifierConfig) (classify.Provider, error)),
	}
}

// RegisterClassifier registers a classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ClassifierConfig) (classify.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// CreateClassifier instantiates a classifier using the factory registered
// under cfg.Name. Returns [ErrClassifierNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateClassifier(cfg ClassifierConfig) (classify.Provider, error) {
	r.mu.RLock()
	factory, ok := r.classifiers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClassifierNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

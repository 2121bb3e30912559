package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidClassifierNames lists classifier names known to ship with Sentinel.
// Used by [Validate] to warn about unrecognised names; third-party
// registrations are still allowed.
var ValidClassifierNames = []string{"yamnet", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Classifier
	if cfg.Classifier.Name == "" {
		errs = append(errs, errors.New("classifier.name is required"))
	} else if !slices.Contains(ValidClassifierNames, cfg.Classifier.Name) {
		slog.Warn("unknown classifier name — may be a typo or third-party registration",
			"name", cfg.Classifier.Name,
			"known", ValidClassifierNames,
		)
	}
	if cfg.Classifier.Name == "yamnet" && cfg.Classifier.BaseURL == "" {
		errs = append(errs, errors.New("classifier.base_url is required for the yamnet classifier"))
	}
	if cfg.Classifier.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout %s must not be negative", cfg.Classifier.Timeout.Std()))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; detections and profiles will not be persisted")
	}
	if cfg.Storage.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must be positive", cfg.Storage.EmbeddingDimensions))
	}

	// Assembler
	if cfg.Assembler.MaxSegmentAge <= 0 {
		errs = append(errs, fmt.Errorf("assembler.max_segment_age %s must be positive", cfg.Assembler.MaxSegmentAge.Std()))
	}
	if cfg.Assembler.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("assembler.reap_interval %s must be positive", cfg.Assembler.ReapInterval.Std()))
	}

	// Matching
	if cfg.Matching.DefaultThreshold <= 0 || cfg.Matching.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("matching.default_threshold %.2f is out of range (0, 1]", cfg.Matching.DefaultThreshold))
	}

	// Hub
	if cfg.Hub.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("hub.buffer_size %d must be positive", cfg.Hub.BufferSize))
	}

	return errors.Join(errs...)
}

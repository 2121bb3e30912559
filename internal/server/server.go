// Package server exposes the Sentinel HTTP API: packet ingest, the websocket
// event stream, and CRUD for devices, sound profiles, notification policy,
// and detection history.
package server

import (
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundsentinel/sentinel/internal/assembler"
	"github.com/soundsentinel/sentinel/internal/health"
	"github.com/soundsentinel/sentinel/internal/hub"
	"github.com/soundsentinel/sentinel/internal/observe"
	"github.com/soundsentinel/sentinel/internal/pipeline"
	"github.com/soundsentinel/sentinel/pkg/classify"
	"github.com/soundsentinel/sentinel/pkg/store"
)

// Server holds the handler dependencies. Construct with New and mount via
// Handler.
type Server struct {
	assembler  *assembler.Assembler
	pipeline   *pipeline.Pipeline
	hub        *hub.Hub
	store      store.Store
	classifier classify.Provider
	health     *health.Handler
	metrics    *observe.Metrics
	log        *slog.Logger

	// defaultThreshold holds the float64 bits of the similarity threshold
	// applied to new sound profiles without an explicit one. Atomic so a
	// config reload can adjust it while requests are in flight.
	defaultThreshold atomic.Uint64
}

// Option is a functional option for New.
type Option func(*Server)

// WithDefaultThreshold overrides the similarity threshold applied to new
// profiles that do not carry their own.
func WithDefaultThreshold(t float64) Option {
	return func(s *Server) { s.SetDefaultThreshold(t) }
}

// SetDefaultThreshold updates the threshold applied to new profiles.
// Values outside (0, 1] are ignored.
func (s *Server) SetDefaultThreshold(t float64) {
	if t <= 0 || t > 1 {
		return
	}
	s.defaultThreshold.Store(math.Float64bits(t))
}

// DefaultThreshold returns the threshold currently applied to new profiles.
func (s *Server) DefaultThreshold() float64 {
	return math.Float64frombits(s.defaultThreshold.Load())
}

// New creates a Server. metrics may be nil, in which case the package
// default instruments are used.
func New(
	asm *assembler.Assembler,
	pipe *pipeline.Pipeline,
	h *hub.Hub,
	st store.Store,
	classifier classify.Provider,
	healthHandler *health.Handler,
	metrics *observe.Metrics,
	log *slog.Logger,
	opts ...Option,
) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		assembler:  asm,
		pipeline:   pipe,
		hub:        h,
		store:      st,
		classifier: classifier,
		health:     healthHandler,
		metrics:    metrics,
		log:        log,
	}
	s.SetDefaultThreshold(store.DefaultThreshold)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Ingest and telemetry.
	mux.HandleFunc("POST /api/packets", s.handleIngestPacket)
	mux.HandleFunc("POST /api/levels", s.handleAudioLevel)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Devices.
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.handleRegisterDevice)
	mux.HandleFunc("PUT /api/devices/{id}", s.handleUpdateDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)

	// Sound profiles.
	mux.HandleFunc("GET /api/profiles", s.handleListProfiles)
	mux.HandleFunc("POST /api/profiles", s.handleCreateProfile)
	mux.HandleFunc("POST /api/profiles/train", s.handleTrainProfile)
	mux.HandleFunc("DELETE /api/profiles/{id}", s.handleDeleteProfile)
	mux.HandleFunc("GET /api/labels", s.handleListLabels)

	// Notification policy.
	mux.HandleFunc("GET /api/policy/{device}", s.handlePolicySettings)
	mux.HandleFunc("POST /api/policy/priority", s.handleAddPriority)
	mux.HandleFunc("POST /api/policy/excluded", s.handleAddExcluded)
	mux.HandleFunc("DELETE /api/policy/{device}/{name}", s.handleRemovePolicy)

	// Detection history.
	mux.HandleFunc("GET /api/detections/{device}", s.handleListDetections)
	mux.HandleFunc("DELETE /api/detections/{device}", s.handleClearDetections)

	// Operational endpoints.
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

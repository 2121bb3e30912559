// Command sentinel is the main entry point for the Sentinel sound detection
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundsentinel/sentinel/internal/app"
	"github.com/soundsentinel/sentinel/internal/config"
	"github.com/soundsentinel/sentinel/internal/observe"
	"github.com/soundsentinel/sentinel/pkg/classify"
	classifymock "github.com/soundsentinel/sentinel/pkg/classify/mock"
	"github.com/soundsentinel/sentinel/pkg/classify/yamnet"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sentinel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("sentinel starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sentinel",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Classifier registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinClassifiers(reg)

	classifier, err := reg.CreateClassifier(cfg.Classifier)
	if err != nil {
		slog.Error("failed to create classifier", "name", cfg.Classifier.Name, "err", err)
		return 1
	}
	slog.Info("classifier created", "name", cfg.Classifier.Name, "model", classifier.ModelID())

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithClassifier(classifier),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			levelVar.Set(diff.NewLogLevel.Level())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		application.ApplyConfigChange(diff)
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Classifier wiring ─────────────────────────────────────────────────────────

// registerBuiltinClassifiers wires the classifier factories that ship with
// Sentinel into reg.
func registerBuiltinClassifiers(reg *config.Registry) {
	reg.RegisterClassifier("yamnet", func(cfg config.ClassifierConfig) (classify.Provider, error) {
		var opts []yamnet.Option
		if cfg.Timeout.Std() > 0 {
			opts = append(opts, yamnet.WithTimeout(cfg.Timeout.Std()))
		}
		if cfg.Model != "" {
			opts = append(opts, yamnet.WithModelID(cfg.Model))
		}
		p, err := yamnet.New(cfg.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		// Fail fast when the sidecar goes down instead of stalling every
		// segment until the HTTP timeout.
		return classify.NewBreaker(p), nil
	})

	// mock serves development setups without an inference sidecar: every
	// segment classifies as silence with a zero embedding.
	reg.RegisterClassifier("mock", func(_ config.ClassifierConfig) (classify.Provider, error) {
		return &classifymock.Provider{
			Result: &classify.Result{
				Labels:    []classify.RankedLabel{{Label: "Silence", Confidence: 1}},
				Embedding: make([]float32, 1024),
			},
			LabelsValue:     []string{"Silence"},
			DimensionsValue: 1024,
		}, nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Sentinel — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Classifier", cfg.Classifier.Name, cfg.Classifier.Model)
	printField("Listen addr", cfg.Server.ListenAddr, "")
	if cfg.Storage.PostgresDSN != "" {
		printField("Storage", "postgres", "")
	} else {
		printField("Storage", "", "")
	}
	printField("Segment age", cfg.Assembler.MaxSegmentAge.Std().String(), "")
	fmt.Printf("║  Threshold       : %-19.2f ║\n", cfg.Matching.DefaultThreshold)
	if cfg.Server.TLS != nil {
		printField("TLS", "enabled", "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

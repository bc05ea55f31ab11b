package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/KafClaw/tenka/internal/bus"
	"github.com/KafClaw/tenka/internal/classifier"
	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/eventlog"
	"github.com/KafClaw/tenka/internal/mode"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/provider"
	"github.com/KafClaw/tenka/internal/responder"
	"github.com/KafClaw/tenka/internal/timeline"
	"github.com/KafClaw/tenka/internal/tools"
)

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runtime holds the components shared by the chat and gateway commands.
type runtime struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	orch     *orchestrator.Orchestrator
	timeline *timeline.TimelineService
	events   *eventlog.Publisher
}

func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, bus: bus.NewMessageBus()}

	if cfg.Timeline.Enabled {
		if err := config.EnsureDir(filepath.Dir(cfg.Timeline.DBPath)); err != nil {
			return nil, fmt.Errorf("timeline dir: %w", err)
		}
		svc, err := timeline.NewTimelineService(cfg.Timeline.DBPath)
		if err != nil {
			return nil, fmt.Errorf("timeline: %w", err)
		}
		rt.timeline = svc
		rt.bus.SubscribeTurns(svc.RecordTurn)
		prev, err := svc.NoteRouterPolicy(cfg.Router.ModeSwitchPolicy)
		if err != nil {
			logger.Warn("Timeline policy note failed", "error", err)
		} else if prev != "" && prev != cfg.Router.ModeSwitchPolicy {
			logger.Info("Mode switch policy changed since last run", "from", prev, "to", cfg.Router.ModeSwitchPolicy)
		}
	}
	if cfg.Kafka.Enabled {
		pub, err := eventlog.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		rt.events = pub
		rt.bus.SubscribeTurns(pub.RecordTurn)
	}

	catalog := mode.DefaultCatalog()

	var backend classifier.Backend
	if p, err := provider.Resolve(cfg, provider.RoleClassifier); err != nil {
		logger.Warn("Classifier provider unavailable, turns will fail until configured", "error", err)
	} else {
		backend = classifier.NewProviderBackend(p)
	}

	resolve := func() (provider.LLMProvider, error) {
		return provider.Resolve(cfg, provider.RoleResponder)
	}
	registry := func() *tools.Registry {
		return tools.NegotiationRegistry(cfg.Tools.TimeZone, cfg.Tools.Search.APIKey, cfg.Tools.Search.APIBase, cfg.Tools.Search.MaxResults)
	}

	rt.orch = orchestrator.New(orchestrator.Options{
		Classifier:   classifier.New(backend, catalog, classifier.Options{HistoryChars: cfg.Router.HistoryChars}),
		ConsentJudge: classifier.NewJudge(cfg.Router.ConsentJudge, backend),
		Catalog:      catalog,
		Factories: map[mode.Mode]responder.Factory{
			mode.General: responder.GeneralFactory(),
			mode.Negotiation: responder.NegotiationFactory(resolve, registry, responder.NegotiationOptions{
				MaxTokens:     cfg.Model.MaxTokens,
				Temperature:   cfg.Model.Temperature,
				MaxIterations: cfg.Model.MaxToolIterations,
			}),
		},
		Policy:              orchestrator.Policy(cfg.Router.ModeSwitchPolicy),
		LowThreshold:        cfg.Router.LowConfidence,
		HistoryMessages:     cfg.Router.HistoryMessages,
		HistoryMessageChars: cfg.Router.HistoryMessageChars,
		Recorder:            rt.bus,
		Welcome:             cfg.Router.WelcomeMessage,
		Logger:              logger,
	})
	return rt, nil
}

func (rt *runtime) Close() error {
	var firstErr error
	if rt.events != nil {
		if err := rt.events.Close(); err != nil {
			firstErr = err
		}
	}
	if rt.timeline != nil {
		if err := rt.timeline.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

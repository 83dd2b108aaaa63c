package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/alfred/internal/assistant"
	"github.com/nugget/alfred/internal/buildinfo"
	"github.com/nugget/alfred/internal/config"
	"github.com/nugget/alfred/internal/connwatch"
	"github.com/nugget/alfred/internal/engine"
	"github.com/nugget/alfred/internal/homeassistant"
	"github.com/nugget/alfred/internal/httpkit"
	"github.com/nugget/alfred/internal/integration"
	"github.com/nugget/alfred/internal/llm"
	"github.com/nugget/alfred/internal/memory"
	"github.com/nugget/alfred/internal/metrics"
	"github.com/nugget/alfred/internal/mqtt"
	"github.com/nugget/alfred/internal/prompts"
)

// app holds the wired components shared by serve and ask.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	db        *memory.SQLiteStore
	store     memory.SessionStore
	backend   *llm.Worker
	ha        *integration.HomeAssistant // nil when not configured
	registry  *integration.Registry
	mqtt      *mqtt.Publisher // nil when disabled
	assistant *assistant.Assistant
}

// newApp builds every component from cfg. Nothing touches the network
// until [app.start].
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	db, err := memory.NewSQLiteStore(cfg.Sessions.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.db = db
	a.store = a.metrics.InstrumentStore(db)
	logger.Info("session store opened", "path", cfg.Sessions.DBPath)

	var contextProvider memory.ContextProvider
	if cfg.Sessions.ContextProvider == "summary" {
		contextProvider = memory.NewSummaryProvider(a.store, cfg.Sessions.HistoryLimit, logger)
	} else {
		contextProvider = memory.NewMessageHistoryProvider(a.store, cfg.Sessions.HistoryLimit, logger)
	}

	// Model backend. One worker per model server serializes calls.
	modelClient := httpkit.NewClient(
		httpkit.WithTimeout(cfg.Ollama.Timeout()),
		httpkit.WithLogger(logger),
	)
	gen, err := llm.NewOllamaGenerator(cfg.Ollama.URL, modelClient, llm.OllamaOptions{
		Model:       cfg.Ollama.Model,
		Temperature: cfg.Ollama.Temperature,
		MaxTokens:   cfg.Ollama.MaxTokens,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.backend = llm.NewWorker(gen)

	observer := engine.Observers{
		a.metrics,
		engine.NewFileObserver(cfg.DebugOutput, logger),
		engine.LogObserver{Logger: logger},
	}
	eng, qa, err := a.buildEngine(modelClient, observer)
	if err != nil {
		a.Close()
		return nil, err
	}

	dispatcher, err := a.buildIntegrations()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.assistant, err = assistant.New(assistant.Config{
		Engine:     eng,
		QA:         qa,
		Dispatcher: dispatcher,
		Store:      a.store,
		Context:    contextProvider,
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildEngine returns the configured decision engine and, in router
// mode, the Q/A handler. The Q/A model gets its own worker when it
// differs from the decision model.
func (a *app) buildEngine(modelClient *http.Client, observer engine.Observer) (engine.Engine, engine.QAHandler, error) {
	cfg := a.cfg
	opts := []engine.Option{engine.WithObserver(observer), engine.WithLogger(a.logger)}

	decisionFallback := prompts.CoreTemplate()
	if cfg.Mode == config.ModeRouter {
		decisionFallback = prompts.RouterTemplate()
	}
	decisionTmpl, err := prompts.LoadTemplate(cfg.Prompts.Decision, decisionFallback, a.logger)
	if err != nil {
		return nil, nil, err
	}
	repairTmpl, err := prompts.LoadTemplate(cfg.Prompts.Repair, prompts.RepairTemplate(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	answerTmpl, err := prompts.LoadTemplate(cfg.Prompts.Answer, prompts.QATemplate(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	renderer := prompts.NewRenderer(prompts.Templates{
		Decision: decisionTmpl,
		Repair:   repairTmpl,
		Answer:   answerTmpl,
	}, cfg.Ollama.Model)

	if cfg.Mode != config.ModeRouter {
		a.logger.Info("decision engine ready", "engine", engine.NameCore, "model", cfg.Ollama.Model)
		return engine.NewCore(a.backend, renderer, opts...), nil, nil
	}

	qaBackend := a.backend
	if cfg.Ollama.QAModel != "" && cfg.Ollama.QAModel != cfg.Ollama.Model {
		qaGen, err := llm.NewOllamaGenerator(cfg.Ollama.URL, modelClient, llm.OllamaOptions{
			Model:       cfg.Ollama.QAModel,
			Temperature: cfg.Ollama.Temperature,
			MaxTokens:   cfg.Ollama.MaxTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		qaBackend = llm.NewWorker(qaGen)
	}
	a.logger.Info("decision engine ready", "engine", engine.NameRouter,
		"model", cfg.Ollama.Model, "qa_model", cfg.Ollama.QAModel)
	return engine.NewRouter(a.backend, renderer, opts...), engine.NewQA(qaBackend, renderer, opts...), nil
}

// buildIntegrations registers Home Assistant, the intent processor and
// the enabled plugins, and returns the dispatcher over them.
func (a *app) buildIntegrations() (*integration.Dispatcher, error) {
	cfg := a.cfg

	var ha integration.Integration
	if cfg.HomeAssistant.Configured() {
		client := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, a.logger)
		a.ha = integration.NewHomeAssistant(client, a.logger)
		ha = a.ha
		a.logger.Info("Home Assistant configured", "url", cfg.HomeAssistant.URL)
	} else {
		a.logger.Warn("Home Assistant not configured, device commands unavailable")
	}

	a.registry = integration.NewRegistry(ha, integration.NewIntentProcessor(cfg.DeviceMappings))

	if cfg.Plugins.Calculator {
		if err := a.registry.Register(integration.Calculator{}); err != nil {
			return nil, err
		}
	}
	if cfg.MQTT.Enabled {
		a.mqtt = mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, a.logger)
		if err := a.registry.Register(integration.NewMQTT("mqtt", a.mqtt, a.logger)); err != nil {
			return nil, err
		}
	}
	for _, p := range a.registry.Plugins() {
		a.logger.Info("plugin loaded", "name", p.Name())
	}

	return integration.NewDispatcher(a.registry,
		integration.WithDispatchObserver(a.metrics),
		integration.WithDispatchLogger(a.logger),
	), nil
}

// start connects to the MQTT broker when enabled.
func (a *app) start(ctx context.Context) error {
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// checkBackend pings the model backend once. An unreachable backend is
// logged, not fatal.
func (a *app) checkBackend(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.backend.Ping(pingCtx); err != nil {
		a.logger.Warn("model backend not reachable", "url", a.cfg.Ollama.URL, "error", err)
	}
}

// watchDependencies starts background health watchers for the model
// backend and, when configured, Home Assistant. Transitions update the
// dependency gauge.
func (a *app) watchDependencies(ctx context.Context) (*connwatch.Manager, error) {
	m := connwatch.NewManager(a.logger)
	if _, err := m.Watch(ctx, connwatch.Service{
		Name:     "ollama",
		Probe:    a.backend.Ping,
		OnChange: a.metrics.DependencyChanged,
	}); err != nil {
		return nil, err
	}
	if a.ha != nil {
		if _, err := m.Watch(ctx, connwatch.Service{
			Name:     "homeassistant",
			Probe:    a.ha.HealthCheck,
			OnChange: a.metrics.DependencyChanged,
		}); err != nil {
			m.Stop()
			return nil, err
		}
	}
	return m, nil
}

// cleanupSessions deletes sessions idle longer than the configured
// timeout.
func (a *app) cleanupSessions(ctx context.Context) {
	n, err := a.store.CleanupExpired(ctx, a.cfg.Sessions.Timeout())
	if err != nil {
		a.logger.Error("session cleanup failed", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("expired sessions removed", "count", n)
	}
}

// pluginCount is reported by the health endpoint.
func (a *app) pluginCount() int {
	return len(a.registry.Plugins())
}

// Close stops MQTT and closes the session store.
func (a *app) Close() {
	if a.mqtt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mqtt.Stop(ctx); err != nil {
			a.logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("close session store failed", "error", err)
		}
	}
}

func startupBanner(logger *slog.Logger) {
	logger.Info("starting Alfred",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)
}

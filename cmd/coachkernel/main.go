// Command coachkernel runs the pipeline orchestration kernel: it loads
// configuration, wires the configured LLM/STT/TTS providers and the
// PostgreSQL-backed storage layer into a [topology.Dependencies], and serves
// chat/voice pipeline runs over a WebSocket transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hellosales/coachkernel/internal/config"
	"github.com/hellosales/coachkernel/internal/health"
	"github.com/hellosales/coachkernel/internal/kernel/action"
	"github.com/hellosales/coachkernel/internal/kernel/breaker"
	"github.com/hellosales/coachkernel/internal/kernel/chatcontext"
	"github.com/hellosales/coachkernel/internal/kernel/guardrails"
	"github.com/hellosales/coachkernel/internal/kernel/observability"
	"github.com/hellosales/coachkernel/internal/kernel/pipeline"
	"github.com/hellosales/coachkernel/internal/kernel/policy"
	"github.com/hellosales/coachkernel/internal/observe"
	"github.com/hellosales/coachkernel/internal/resilience"
	"github.com/hellosales/coachkernel/internal/storage/postgres"
	"github.com/hellosales/coachkernel/internal/topology"
	"github.com/hellosales/coachkernel/internal/transport/socket"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hellosales/coachkernel/pkg/provider/llm"
	"github.com/hellosales/coachkernel/pkg/provider/llm/anthropic"
	"github.com/hellosales/coachkernel/pkg/provider/llm/anyllm"
	"github.com/hellosales/coachkernel/pkg/provider/llm/openai"
	"github.com/hellosales/coachkernel/pkg/provider/retry"
	"github.com/hellosales/coachkernel/pkg/provider/stt"
	"github.com/hellosales/coachkernel/pkg/provider/stt/hallucinationgate"
	sttopenai "github.com/hellosales/coachkernel/pkg/provider/stt/openai"
	"github.com/hellosales/coachkernel/pkg/provider/stt/whisper"
	"github.com/hellosales/coachkernel/pkg/provider/tts"
	ttsopenai "github.com/hellosales/coachkernel/pkg/provider/tts/openai"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "coachkernel: no config file at %q — pass -config with the path to a YAML config file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "coachkernel: %v\n", err)
		}
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	watcher, err := config.NewWatcher(*configPath, onConfigChange)
	if err != nil {
		slog.Error("coachkernel: start config watcher", "err", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "coachkernel"})
	if err != nil {
		slog.Error("coachkernel: init telemetry providers", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("coachkernel: shut down telemetry providers", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("coachkernel: init metrics", "err", err)
		os.Exit(1)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN)
	if err != nil {
		slog.Error("coachkernel: connect storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	asyncSink := observability.NewAsyncEventSink(store)
	defer asyncSink.Close()
	events := observability.NewPipelineEventLogger(asyncSink, store, logger)
	runs := observability.NewPipelineRunLogger(store, logger)

	deps, err := buildDependencies(cfg, reg, store, events)
	if err != nil {
		slog.Error("coachkernel: build dependencies", "err", err)
		os.Exit(1)
	}

	printStartupSummary(cfg)

	orchestrator := pipeline.NewOrchestrator(events, runs)

	handler := &socket.Handler{
		Deps:         deps,
		Orchestrator: orchestrator,
		Registry:     socket.NewRegistry(),
		Service:      "coachkernel",
		Metrics:      metrics,
	}

	healthHandler := health.New(health.Checker{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return store.Pool().Ping(ctx) },
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Register(mux)

	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(metrics)(mux)}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("coachkernel: listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("coachkernel: exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("coachkernel: shut down cleanly")
}

// registerBuiltinProviders registers every provider factory this binary ships
// with. Each factory is a thin adapter from a [config.ProviderEntry] to the
// provider package's own constructor and Option set.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.New(entry.APIKey, entry.Model)
	})
	reg.RegisterLLM("anthropic", func(entry config.ProviderEntry) (llm.Provider, error) {
		return anthropic.New(entry.APIKey, entry.Model)
	})
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend, _ := entry.Options["provider"].(string)
		if backend == "" {
			return nil, fmt.Errorf("anyllm: options.provider is required (e.g. %q, %q, %q)", "gemini", "ollama", "groq")
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []sttopenai.Option{}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		serverURL := entry.BaseURL
		opts := []whisper.Option{}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(serverURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []ttsopenai.Option{}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})
}

// buildDependencies resolves every provider named in cfg.Providers, wraps the
// STT provider in the hallucination gate, and assembles the long-lived
// [topology.Dependencies] every chat/voice topology closes over.
func buildDependencies(cfg *config.Config, reg *config.Registry, store *postgres.Store, events *observability.PipelineEventLogger) (*topology.Dependencies, error) {
	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}

	var llmBackup llm.Provider
	if cfg.Providers.LLMBackup.Name != "" {
		llmBackup, err = reg.CreateLLM(cfg.Providers.LLMBackup)
		if err != nil {
			return nil, fmt.Errorf("create llm backup provider %q: %w", cfg.Providers.LLMBackup.Name, err)
		}
	}

	triageEntry := cfg.Providers.LLM
	if cfg.Providers.TriageModel != "" {
		triageEntry.Model = cfg.Providers.TriageModel
	}
	triage, err := reg.CreateLLM(triageEntry)
	if err != nil {
		return nil, fmt.Errorf("create triage provider %q: %w", triageEntry.Name, err)
	}

	sttRaw, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}

	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}

	calls := observability.NewProviderCallLogger(store, slog.Default())

	sttGated := hallucinationgate.Wrap(sttRaw, hallucinationgate.Config{
		Sink: slogEventSink{log: slog.Default()},
	})

	builder := chatcontext.NewBuilder(
		cfg.Pipeline.Enrichers, events,
		store, store, store, store, store,
		promptV1, promptV2, onboardingPrompt,
	)

	var rules *policy.RuleSet
	if cfg.Policy.IntentRulesJSON != "" {
		rules, err = policy.ParseIntentRules(cfg.Policy.IntentRulesJSON)
		if err != nil {
			return nil, fmt.Errorf("parse policy intent rules: %w", err)
		}
	}

	host := action.NewHost()
	for _, mcpServer := range cfg.MCP.Servers {
		serverCfg := action.ServerConfig{
			Name:      mcpServer.Name,
			Transport: action.Transport(mcpServer.Transport),
			Command:   mcpServer.Command,
			URL:       mcpServer.URL,
			Env:       mcpServer.Env,
		}
		if err := host.RegisterServer(context.Background(), serverCfg); err != nil {
			return nil, fmt.Errorf("register mcp server %q: %w", mcpServer.Name, err)
		}
	}

	return &topology.Dependencies{
		LLMPrimaryName:  cfg.Providers.LLM.Name,
		LLMPrimaryModel: cfg.Providers.LLM.Model,
		LLMPrimary:      llmPrimary,
		LLMBackupName:   cfg.Providers.LLMBackup.Name,
		LLMBackupModel:  cfg.Providers.LLMBackup.Model,
		LLMBackup:       llmBackup,

		TriageName:  triageEntry.Name,
		TriageModel: triageEntry.Model,
		Triage:      triage,

		STTName:  cfg.Providers.STT.Name,
		STTModel: cfg.Providers.STT.Model,
		STT:      sttGated,

		TTSName:  cfg.Providers.TTS.Name,
		TTSModel: cfg.Providers.TTS.Model,
		TTS:      ttsProvider,

		Breakers: breaker.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 5}),
		Retry:    retry.DefaultPolicy(),
		Calls:    calls,

		ChatBuilder: builder,
		Guardrails:  guardrails.NewStage(guardrails.Config(cfg.Guardrails), nil),
		Policy:      policy.NewGateway(cfg.Policy, rules),

		Interactions: store,
		Assessments:  store,

		Actions: &action.Executor{Host: host},

		DefaultIntent: "coach",
	}, nil
}

// slogEventSink implements [hallucinationgate.EventSink] with a plain
// structured log line. The gate is wrapped once at process start, around
// the raw STT provider shared by every run, so it has no pipeline run ID or
// [observability.EventMeta] to attach to a proper pipeline event — by the
// time a transcript reaches a run's Ports.Emit, the gate has already made
// its drop decision underneath stt.Provider's plain context.Context.
type slogEventSink struct {
	log *slog.Logger
}

func (s slogEventSink) Emit(ctx context.Context, eventType string, data map[string]any) {
	attrs := make([]any, 0, len(data)*2)
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	s.log.InfoContext(ctx, eventType, attrs...)
}

const (
	promptV1         = "You are a supportive coach. Keep responses concise and encouraging."
	promptV2         = "You are a supportive coach speaking naturally, as in a real conversation. Keep responses short."
	onboardingPrompt = "You are meeting this user for the first time. Introduce yourself briefly and ask what they'd like to work on."
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch config.LogLevel(level) {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// onConfigChange is the [config.Watcher] callback: of the changes config.Diff
// reports it applies only the log level live, and logs the rest so an
// operator knows a restart is needed to pick them up — provider credentials, MCP wiring, and pipeline topology are all
// built once in buildDependencies and not safely swappable at runtime.
func onConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		slog.SetDefault(newLogger(string(d.NewLogLevel)))
		slog.Info("coachkernel: log level changed", "new_level", d.NewLogLevel)
	}
	if d.PipelineModeChanged {
		slog.Warn("coachkernel: pipeline mode changed in config but requires a restart to take effect", "new_mode", d.NewPipelineMode)
	}
	if d.EnrichersChanged {
		slog.Warn("coachkernel: enricher config changed but requires a restart to take effect")
	}
	if d.PolicyChanged {
		slog.Warn("coachkernel: policy config changed but requires a restart to take effect")
	}
	if d.GuardrailsChanged {
		slog.Warn("coachkernel: guardrails config changed but requires a restart to take effect")
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        coachkernel — startup summary      ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("LLM backup", cfg.Providers.LLMBackup.Name, cfg.Providers.LLMBackup.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Pipeline mode   : %-24s ║\n", cfg.Pipeline.Mode)
	fmt.Printf("║  MCP servers     : %-24d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-24s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚══════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 24 {
		value = value[:21] + "…"
	}
	fmt.Printf("║  %-14s: %-24s ║\n", kind, value)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/adapters"
	"github.com/ZanzyTHEbar/stepwise/internal/analyzer"
	"github.com/ZanzyTHEbar/stepwise/internal/cache"
	"github.com/ZanzyTHEbar/stepwise/internal/config"
	"github.com/ZanzyTHEbar/stepwise/internal/decomposer"
	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/metrics"
	"github.com/ZanzyTHEbar/stepwise/internal/resolver"
	"github.com/ZanzyTHEbar/stepwise/internal/router"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
	"github.com/ZanzyTHEbar/stepwise/internal/toolbox"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	bus     *eventbus.ChannelEventBus
	toolbox *toolbox.Toolbox
	planner *stepwise.Planner
	metrics *metrics.Collector

	// plan runs through the genkit flow when a model is configured
	plan func(context.Context, stepwise.Task) (*stepwise.Plan, error)

	closers []func()
}

type appOptions struct {
	// structure, when set, is handed to the decomposer as a pre-analyzed plan
	structure *stepwise.TaskStructure
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = logging.NewStdLogger(logging.ParseLevel(cfg.LogLevel), log.New(os.Stderr, "", 0))

	a.bus = eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(cfg.EventBus.BufferSize),
		eventbus.WithWorkerCount(cfg.EventBus.Workers),
		eventbus.WithRetries(cfg.EventBus.MaxRetries, cfg.EventBus.RetryDelay),
		eventbus.WithLogger(a.logger),
	)
	a.closers = append(a.closers, func() { _ = a.bus.Close() })

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	if _, err := collector.Attach(a.bus); err != nil {
		return nil, err
	}
	a.metrics = collector
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(reg)
	}

	strategy, err := router.ParseStrategy(cfg.Planner.Strategy)
	if err != nil {
		return nil, stepwise.NewConfigurationError("invalid routing strategy", err)
	}
	a.toolbox, err = toolbox.Load(ctx, toolbox.Paths{
		Schema:       cfg.Documents.Schema,
		Capabilities: cfg.Documents.Capabilities,
		Registry:     cfg.Documents.Registry,
	},
		toolbox.WithLogger(a.logger),
		toolbox.WithStrategy(strategy),
		toolbox.WithRouteHook(func(sel stepwise.Selection, d router.Decision) {
			a.publish(eventbus.EventToolRouted, d.Tool.Name, "Toolbox.Select", map[string]interface{}{
				"tool":       d.Tool.Name,
				"capability": sel.Capability,
				"strategy":   string(d.Strategy),
				"score":      d.Score,
			})
		}),
	)
	if err != nil {
		return nil, err
	}

	var (
		gen stepwise.Generator
		g   *genkit.Genkit
	)
	if cfg.Generator.Enabled() {
		g, err = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.Generator.APIKey}),
			genkit.WithDefaultModel(cfg.Generator.Model),
		)
		if err != nil {
			return nil, stepwise.NewConfigurationError("failed to initialize genkit", err)
		}
		genOpts := []adapters.GeneratorOption{
			adapters.WithModel(cfg.Generator.Model),
			adapters.WithTimeout(cfg.Generator.Timeout),
			adapters.WithLogger(a.logger),
		}
		if cfg.Generator.CacheTTL > 0 {
			responses := cache.NewInMemoryCache(cfg.Generator.CacheTTL, cache.WithLogger(a.logger), cache.WithSweepInterval(cfg.Generator.CacheTTL))
			a.closers = append(a.closers, responses.Close)
			genOpts = append(genOpts, adapters.WithResponseCache(responses))
		}
		gen, err = adapters.NewGenkitGenerator(g, genOpts...)
		if err != nil {
			return nil, err
		}
	}

	onGeneratorFailure := func(stage string, err error) {
		a.publish(eventbus.EventGeneratorFailed, err.Error(), "Generator", map[string]interface{}{
			"stage": stage,
			"error": err.Error(),
		})
	}

	anOpts := []analyzer.Option{
		analyzer.WithLogger(a.logger),
		analyzer.WithKeywordTools(cfg.Decomposer.SearchTool, cfg.Decomposer.BrowserTool),
		analyzer.WithFailureHook(onGeneratorFailure),
	}
	decOpts := []decomposer.Option{
		decomposer.WithLogger(a.logger),
		decomposer.WithSelectionStrategy(string(strategy)),
		decomposer.WithKeywordTools(cfg.Decomposer.SearchTool, cfg.Decomposer.BrowserTool),
		decomposer.WithFailureHook(onGeneratorFailure),
	}
	if gen != nil {
		anOpts = append(anOpts, analyzer.WithGenerator(gen))
		decOpts = append(decOpts, decomposer.WithGenerator(gen))
	}
	if cfg.Generator.Lenient {
		anOpts = append(anOpts, analyzer.WithLenientParsing())
		decOpts = append(decOpts, decomposer.WithLenientParsing())
	}
	if cfg.Decomposer.SearchSelector != "" {
		decOpts = append(decOpts, decomposer.WithSearchSelector(cfg.Decomposer.SearchSelector))
	}

	var an stepwise.Analyzer = analyzer.New(a.toolbox, anOpts...)
	if opts.structure != nil {
		an = structuredAnalyzer{inner: an, structure: opts.structure}
	}

	res := resolver.New(a.toolbox.Schemas(),
		resolver.WithLogger(a.logger),
		resolver.WithExtractorFailureHook(func(tool, output string, err error) {
			a.publish(eventbus.EventExtractorFailed, output, "Resolver.ExtractOutputs", map[string]interface{}{
				"tool":   tool,
				"output": output,
				"error":  err.Error(),
			})
		}),
	)

	plannerOpts := []stepwise.Option{
		stepwise.WithAnalyzer(an),
		stepwise.WithDecomposer(decomposer.New(a.toolbox, decOpts...)),
		stepwise.WithResolver(res),
		stepwise.WithToolset(a.toolbox),
		stepwise.WithLogger(a.logger),
		stepwise.WithEventBus(a.bus),
	}
	if cfg.Planner.CacheTTL > 0 && opts.structure == nil {
		plans := cache.NewInMemoryCache(cfg.Planner.CacheTTL,
			cache.WithMaxEntries(cfg.Planner.CacheEntries),
			cache.WithLogger(a.logger),
			cache.WithSweepInterval(cfg.Planner.CacheTTL),
		)
		a.closers = append(a.closers, plans.Close)
		plannerOpts = append(plannerOpts, stepwise.WithCache(plans))
	}
	a.planner, err = stepwise.New(plannerOpts...)
	if err != nil {
		return nil, err
	}

	a.plan = a.planner.Plan
	if g != nil {
		a.plan = adapters.NewFlowPlanner(adapters.DefinePlanFlow(g, a.planner)).Plan
	}
	return a, nil
}

// watchSchema reloads the schema document until ctx is done.
func (a *app) watchSchema(ctx context.Context) {
	path := a.cfg.Documents.Schema
	if !a.cfg.Documents.Watch || path == "" {
		return
	}
	go func() {
		err := a.toolbox.Watch(ctx, path, func(doc *schema.Document, err error) {
			if err != nil {
				a.publish(eventbus.EventSchemaReloadError, path, "Toolbox.Watch", map[string]interface{}{"error": err.Error()})
				return
			}
			a.publish(eventbus.EventSchemaReloaded, path, "Toolbox.Watch", map[string]interface{}{"tools": len(doc.Names())})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("schema watch stopped", logging.Fields{"path": path, "error": err.Error()})
		}
	}()
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", logging.Fields{"error": err.Error()})
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
}

func (a *app) publish(t eventbus.EventType, payload interface{}, source string, meta map[string]interface{}) {
	if err := a.bus.Publish(context.Background(), eventbus.NewEvent(t, payload, source, meta)); err != nil {
		a.logger.Debug("event publish failed", logging.Fields{"event_type": string(t), "error": err.Error()})
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	s := a.metrics.Summary()
	a.logger.Debug("session summary", logging.Fields{
		"plans_succeeded":    s.PlansSucceeded,
		"plans_failed":       s.PlansFailed,
		"cache_hits":         s.CacheHits,
		"fallbacks_used":     s.FallbacksUsed,
		"generator_failures": s.GeneratorFailures,
		"total_duration":     s.TotalDuration.String(),
	})
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// structuredAnalyzer attaches a hand-written task structure to every analysis.
type structuredAnalyzer struct {
	inner     stepwise.Analyzer
	structure *stepwise.TaskStructure
}

func (s structuredAnalyzer) Analyze(ctx context.Context, description string) (*stepwise.TaskAnalysis, error) {
	analysis, err := s.inner.Analyze(ctx, description)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		analysis = &stepwise.TaskAnalysis{}
	}
	analysis.TaskStructure = s.structure
	if analysis.EstimatedSteps < len(s.structure.Steps) {
		analysis.EstimatedSteps = len(s.structure.Steps)
	}
	return analysis, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

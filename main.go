package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemetry-cloud/internal/alerts"
	"telemetry-cloud/internal/alerts/notify"
	analyticsapp "telemetry-cloud/internal/analytics/application"
	analyticsevents "telemetry-cloud/internal/analytics/application/events"
	"telemetry-cloud/internal/analytics/domain/statistic"
	analyticsrepo "telemetry-cloud/internal/analytics/infrastructure/postgres"
	apihttp "telemetry-cloud/internal/api/http"
	"telemetry-cloud/internal/auth"
	"telemetry-cloud/internal/config"
	consumptionapp "telemetry-cloud/internal/consumption/application"
	consumptionevents "telemetry-cloud/internal/consumption/application/events"
	consumption "telemetry-cloud/internal/consumption/domain"
	consumptionrepo "telemetry-cloud/internal/consumption/infrastructure/postgres"
	"telemetry-cloud/internal/eventing"
	eventingrepo "telemetry-cloud/internal/eventing/infrastructure/postgres"
	"telemetry-cloud/internal/livecache"
	masterdatarepo "telemetry-cloud/internal/masterdata/infrastructure/postgres"
	"telemetry-cloud/internal/observability/metrics"
	"telemetry-cloud/internal/reports"
	"telemetry-cloud/internal/schedule"
	telemetryevents "telemetry-cloud/internal/telemetry/application/events"
	telemetryrepo "telemetry-cloud/internal/telemetry/infrastructure/postgres"
	ingesthttp "telemetry-cloud/internal/telemetry/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	topology, err := config.Load(cfg.TopologyPath)
	if err != nil {
		logger.Fatalf("topology config error: %v", err)
	}
	varRegistry, err := topology.BuildRegistry()
	if err != nil {
		logger.Fatalf("variable registry error: %v", err)
	}

	siteRepo := masterdatarepo.NewSiteRepository(db)
	blockRepo := masterdatarepo.NewBlockRepository(db)
	unitRepo := masterdatarepo.NewUnitRepository(db)
	resourceRepo := masterdatarepo.NewResourceRepository(db)
	sampleStore := telemetryrepo.NewSampleStore(db)
	statsRepo := analyticsrepo.NewStatisticRepository(db)
	consRepo := consumptionrepo.NewConsumptionRepository(db)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if err := topology.Apply(seedCtx, siteRepo, blockRepo, unitRepo, resourceRepo); err != nil {
		cancelSeed()
		logger.Fatalf("topology seed error: %v", err)
	}
	cancelSeed()

	calculators, err := topology.BuildCalculators(sampleStore)
	if err != nil {
		logger.Fatalf("calculator config error: %v", err)
	}

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.SampleBatchReceived{})
	registry.Register(analyticsevents.StatisticRollupCompleted{})
	registry.Register(analyticsevents.StatisticSeriesRecomputed{})
	registry.Register(consumptionevents.ConsumptionRollupCompleted{})
	registry.Register(consumptionevents.ConsumptionHourRemoved{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, firstSiteID(topology), baseBus)

	statsRollup, err := statistic.NewRollupService(sampleStore, statsRepo, statistic.SystemClock{})
	if err != nil {
		logger.Fatalf("statistics rollup error: %v", err)
	}
	statsApp, err := analyticsapp.NewRollupService(
		statsRollup, statsRepo, unitRepo, blockRepo, siteRepo, varRegistry,
		analyticsapp.WithRollupBus(publisher),
		analyticsapp.WithRollupLogger(logger),
	)
	if err != nil {
		logger.Fatalf("statistics app error: %v", err)
	}

	consRollup, err := consumption.NewRollupService(consRepo, sampleStore, statistic.SystemClock{})
	if err != nil {
		logger.Fatalf("consumption rollup error: %v", err)
	}
	consApp, err := consumptionapp.NewRollupService(
		consRollup, consRepo, siteRepo, blockRepo, unitRepo, calculators,
		consumptionapp.WithRollupBus(publisher),
		consumptionapp.WithRollupLogger(logger),
	)
	if err != nil {
		logger.Fatalf("consumption app error: %v", err)
	}

	lastKnown := livecache.NewLastKnown()
	source := livecache.NewChain(lastKnown, livecache.NewStoreSource(sampleStore))

	// The engine needs the cache and the cache's refresh hook needs the
	// engine, so the hook closes over a variable assigned just below.
	var engine *alerts.Engine
	cache, err := livecache.NewCache(siteRepo, blockRepo, unitRepo, varRegistry, source,
		livecache.WithCacheLogger(logger),
		livecache.WithRefreshHook(func() {
			if engine != nil {
				engine.ResetSuppression()
			}
		}),
	)
	if err != nil {
		logger.Fatalf("live cache error: %v", err)
	}

	channel := buildAlertChannel(cfg, logger)
	engineOpts := []alerts.EngineOption{
		alerts.WithEngineLogger(logger),
		alerts.WithSuppressionWindow(cfg.AlertSuppressionWindow),
	}
	if cfg.AlertTemplate != "" {
		tpl, err := notify.NewTemplate(cfg.AlertTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		engineOpts = append(engineOpts, alerts.WithEngineTemplate(tpl))
	}
	engine, err = alerts.NewEngine(cache, blockRepo, channel, engineOpts...)
	if err != nil {
		logger.Fatalf("alert engine error: %v", err)
	}
	watchdog, err := alerts.NewWatchdog(cache.LastUpdate, channel, cfg.WatchdogGroupID,
		alerts.WithWatchdogThreshold(cfg.WatchdogThreshold),
		alerts.WithWatchdogLogger(logger),
	)
	if err != nil {
		logger.Fatalf("watchdog error: %v", err)
	}

	broker := apihttp.NewSSEBroker()
	cache.Subscribe(broker)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[telemetryevents.SampleBatchReceived](), "livecache.touch", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.SampleBatchReceived)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		cache.Touch(evt.BlockIDs...)
		return nil
	}, processedStore)

	ingestHandler, err := ingesthttp.NewIngestHandler(sampleStore, unitRepo, logger,
		ingesthttp.WithRecorder(lastKnown),
		ingesthttp.WithEventBus(publisher),
	)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	exporter, err := reports.NewExporter(statsRepo, consRepo, unitRepo, resourceRepo)
	if err != nil {
		logger.Fatalf("report exporter error: %v", err)
	}

	controller, err := schedule.NewController(topology.Schedules, unitRepo, blockRepo, siteRepo,
		schedule.WithControllerLogger(logger),
	)
	if err != nil {
		logger.Fatalf("schedule controller error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cache.Refresh(ctx); err != nil {
		logger.Printf("initial cache refresh error: %v", err)
	}

	go controller.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cache.Tick()
				engine.Scan(ctx)
				watchdog.Check(ctx)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.RollupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := statsApp.RunAll(ctx); err != nil {
					logger.Printf("statistics rollup sweep error: %v", err)
				}
				if err := consApp.RunAll(ctx); err != nil {
					logger.Printf("consumption rollup sweep error: %v", err)
				}
			}
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware(cfg.IngestToken)

	rollupHandler := apihttp.NewRollupHandler(statsApp, consApp)
	reportsHandler := apihttp.NewReportsHandler(exporter)

	mux := http.NewServeMux()
	mux.Handle("/ingest", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/statistics", apihttp.NewStatisticsHandler(statsRepo))
	mux.Handle("/api/v1/consumption", apihttp.NewConsumptionHandler(consRepo))
	mux.Handle("/api/v1/rollup/statistics", rollupHandler)
	mux.Handle("/api/v1/rollup/consumption", rollupHandler)
	mux.Handle("/api/v1/recompute/statistics", apihttp.NewRecomputeHandler(statsApp))
	mux.Handle("/api/v1/consumption/hourly", apihttp.NewRemoveHourHandler(consApp))
	mux.Handle("/api/v1/live", apihttp.NewLiveHandler(cache))
	mux.Handle("/api/v1/live/stream", apihttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/live/refresh", apihttp.NewRefreshHandler(cache))
	mux.Handle("/api/v1/reports/statistics.xlsx", reportsHandler)
	mux.Handle("/api/v1/reports/consumption.pdf", reportsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
}

type appConfig struct {
	DatabaseURL            string
	HTTPAddr               string
	TopologyPath           string
	JWTSecret              string
	IngestToken            string
	AlertWebhookURL        string
	AlertTemplate          string
	AlertSuppressionWindow time.Duration
	WatchdogThreshold      time.Duration
	WatchdogGroupID        string
	TickInterval           time.Duration
	RollupInterval         time.Duration
}

func loadConfig() appConfig {
	cfg := appConfig{
		DatabaseURL:            getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:               getenvDefault("HTTP_ADDR", ":8080"),
		TopologyPath:           getenvDefault("TOPOLOGY_CONFIG", "topology.yaml"),
		JWTSecret:              getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestToken:            getenvDefault("INGEST_TOKEN", ""),
		AlertWebhookURL:        getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertTemplate:          getenvDefault("ALERT_TEMPLATE", ""),
		AlertSuppressionWindow: getenvDuration("ALERT_SUPPRESSION_WINDOW", time.Hour),
		WatchdogThreshold:      getenvDuration("WATCHDOG_THRESHOLD", 15*time.Minute),
		WatchdogGroupID:        getenvDefault("WATCHDOG_GROUP_ID", "operations"),
		TickInterval:           getenvDuration("LIVE_TICK_INTERVAL", 5*time.Second),
		RollupInterval:         getenvDuration("ROLLUP_INTERVAL", 15*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.IngestToken == "" {
		log.Fatal("INGEST_TOKEN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstSiteID(t config.Topology) string {
	if len(t.Sites) == 0 {
		return ""
	}
	return t.Sites[0].ID
}

// buildAlertChannel returns the configured webhook channel or a no-op
// multi channel so the engine and watchdog always have somewhere to send.
func buildAlertChannel(cfg appConfig, logger *log.Logger) notify.Channel {
	if cfg.AlertWebhookURL == "" {
		logger.Printf("alerting: no webhook configured, notifications are dropped")
		return notify.NewMultiChannel()
	}
	channel, err := notify.NewWebhookChannel(cfg.AlertWebhookURL)
	if err != nil {
		logger.Fatalf("alert webhook error: %v", err)
	}
	return channel
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

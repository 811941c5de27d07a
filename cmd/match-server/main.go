// cmd/match-server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"donor-matching/internal/api"
	awsclient "donor-matching/internal/common/aws"
	"donor-matching/internal/common/camunda"
	"donor-matching/internal/common/config"
	"donor-matching/internal/common/database"
	"donor-matching/internal/common/logger"
	"donor-matching/internal/common/observability"
	"donor-matching/internal/events"
	"donor-matching/internal/geocode"
	"donor-matching/internal/matching/eligibility"
	"donor-matching/internal/matching/ledger"
	"donor-matching/internal/matching/orchestrator"
	"donor-matching/internal/matching/ranker"
	"donor-matching/internal/models"
	"donor-matching/internal/notification/channel"
	"donor-matching/internal/notification/dispatcher"
	"donor-matching/internal/repository"

	bm "donor-matching/internal/workers/matching/batch-match"
	nm "donor-matching/internal/workers/notification/notify-match"
	nus "donor-matching/internal/workers/notification/notify-unmatched-sweep"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting match server...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("observability disabled", zap.Error(err))
		obs = observability.Noop()
	}

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("match schema migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	rdb := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Repository and donor source ---
	repo := repository.NewCachedRepository(
		repository.NewPostgresRepository(pg.DB),
		rdb.Client,
		config.GetDuration(cfg.Database.Redis.CacheTTL),
		log,
	)

	var donors orchestrator.DonorSource = repo
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		donors = repository.NewElasticDonorSource(es.Client, es.Index)
		zapLog.Info("Elasticsearch donor directory enabled", zap.String("index", es.Index))
	}

	// --- Matching core ---
	store := ledger.NewPostgresStore(pg.DB)

	rankerOpts := []ranker.Option{
		ranker.WithLogger(log),
		ranker.WithMaxCandidates(candidateCaps(cfg.Matching.MaxCandidates, zapLog)),
	}
	if cfg.Geocoding.Enabled {
		rankerOpts = append(rankerOpts, ranker.WithGeocoder(geocode.New(cfg.Geocoding, rdb.Client, log)))
	}
	rk := ranker.New(eligibility.NewFilter(cfg.Matching.DeferralDays), rankerOpts...)

	stream := events.NewStreamPublisher(rdb.Client, cfg.Events.Stream, cfg.Events.MaxLen, log)

	ch, err := buildChannel(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("notification channel setup failed", zap.Error(err))
	}
	disp := dispatcher.New(store, repo, ch, stream, log, dispatcher.Options{
		Timeout:       config.GetDuration(cfg.Notifications.Timeout),
		LookupTimeout: config.GetDuration(cfg.Matching.LookupTimeout),
		AutoNotify:    cfg.Notifications.AutoNotify,
	})

	orch := orchestrator.New(
		repo, donors, store, rk,
		events.Multi{stream, events.NewLocalPublisher(disp)},
		obs, log,
		orchestrator.Options{
			LookupTimeout:    config.GetDuration(cfg.Matching.LookupTimeout),
			BatchConcurrency: cfg.Matching.BatchConcurrency,
		},
	)

	// --- Zeebe workers ---
	var (
		zeebe   *camunda.Client
		workers []*camunda.Worker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(ctx, cfg.Camunda)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		if config.IsWorkerEnabled(cfg, bm.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, bm.TaskType)
			h := bm.NewHandler(bm.LoadConfig(wcfg), orch, log)
			workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), bm.TaskType, wcfg, h, zapLog))
		}
		if config.IsWorkerEnabled(cfg, nm.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, nm.TaskType)
			h := nm.NewHandler(nm.LoadConfig(wcfg), disp, log)
			workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), nm.TaskType, wcfg, h, zapLog))
		}
		if config.IsWorkerEnabled(cfg, nus.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, nus.TaskType)
			h := nus.NewHandler(nus.LoadConfig(wcfg), disp, log)
			workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), nus.TaskType, wcfg, h, zapLog))
		}
		zapLog.Info("workers registered", zap.Int("count", len(workers)))
	}

	// --- HTTP server ---
	r := chi.NewRouter()
	api.New(orch, disp, stream, log).Register(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pg.Ping(rctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "postgres unavailable")
			return
		}
		if err := rdb.Ping(rctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		if zeebe != nil {
			if err := zeebe.HealthCheck(rctx); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "zeebe unavailable")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      r,
		ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("observability shutdown failed", zap.Error(err))
	}
	zapLog.Info("Match server stopped gracefully")
}

// buildChannel routes through SES and SNS when enabled, otherwise logs
// messages.
func buildChannel(ctx context.Context, cfg *config.Config, log logger.Logger) (channel.Channel, error) {
	aws := cfg.Integrations.AWS
	emailOn := cfg.Notifications.Email.Enabled && aws.SES.Enabled
	smsOn := cfg.Notifications.SMS.Enabled && aws.SNS.Enabled
	if !emailOn && !smsOn {
		return &channel.LogChannel{Logger: log.Named("notifications")}, nil
	}

	awsCfg, err := awsclient.LoadConfig(ctx, aws.Region)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	threshold, err := models.ParseUrgency(cfg.Notifications.SMS.PriorityThreshold)
	if err != nil {
		return nil, err
	}
	router := &channel.Router{SMSThreshold: threshold}
	if emailOn {
		router.Email = channel.NewEmailChannel(awsclient.NewSESClient(awsCfg), cfg.Notifications.Email.FromEmail)
	}
	if smsOn {
		router.SMS = channel.NewSMSChannel(awsclient.NewSNSClient(awsCfg), aws.SNS.DefaultSMSSenderID)
	}
	return router, nil
}

func candidateCaps(raw map[string]int, log *zap.Logger) map[models.Urgency]int {
	caps := make(map[models.Urgency]int, len(raw))
	for k, n := range raw {
		u, err := models.ParseUrgency(k)
		if err != nil {
			log.Warn("ignoring max_candidates entry", zap.String("urgency", k))
			continue
		}
		caps[u] = n
	}
	return caps
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

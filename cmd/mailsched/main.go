package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lumenshop/mailsched/internal/api"
	"github.com/lumenshop/mailsched/internal/cache"
	"github.com/lumenshop/mailsched/internal/config"
	"github.com/lumenshop/mailsched/internal/mailer"
	"github.com/lumenshop/mailsched/internal/metrics"
	"github.com/lumenshop/mailsched/internal/repo"
	"github.com/lumenshop/mailsched/internal/scheduler"
	"github.com/lumenshop/mailsched/internal/service"
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadAll()
	if err != nil {
		fatal("failed to load config", err)
	}

	slog.Info("mailsched starting",
		"addr", cfg.Server.Address,
		"interval", cfg.Scheduler.Interval.String(),
		"window", cfg.Scheduler.Window.String(),
		"redis", cfg.Redis.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		fatal("database unreachable", err)
	}
	if err := repo.EnsureSchema(ctx, db); err != nil {
		fatal("failed to ensure schema", err)
	}
	taskRepo := repo.NewPostgresTaskRepo(db)

	var deliveryCache cache.DeliveryCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, delivery cache disabled", "error", err)
		} else {
			deliveryCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		}
	}

	metrics.Init()
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.Metrics.Address, Handler: metricsMux}
	go func() {
		slog.Info("metrics server started", "addr", cfg.Metrics.Address)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("metrics server error", err)
		}
	}()

	smtpMailer := mailer.NewSMTPMailer(mailer.Config{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Username:      cfg.SMTP.Username,
		Password:      cfg.SMTP.Password,
		From:          cfg.SMTP.From,
		FromName:      cfg.SMTP.FromName,
		RatePerSecond: float64(cfg.SMTP.RatePerSecond),
		MaxElapsed:    cfg.SMTP.MaxElapsed,
	})

	proc := service.NewProcessor(taskRepo, smtpMailer, cfg.Scheduler.Window, cfg.Scheduler.StaleAfter)
	if deliveryCache != nil {
		proc = proc.WithCache(deliveryCache)
	}

	sweep, err := scheduler.New("scheduled-email-sweep", cfg.Scheduler.Interval, func(tickCtx context.Context) error {
		_, err := proc.Sweep(tickCtx)
		return err
	})
	if err != nil {
		fatal("failed to create scheduler", err)
	}
	sweep.Start()
	defer sweep.Stop()

	handler := api.NewHandler(sweep, taskRepo, proc, deliveryCache, api.Options{
		SweepToken:       cfg.Sweep.Token,
		TriggerThreshold: cfg.Scheduler.TriggerThreshold,
		UpcomingLimit:    cfg.Scheduler.UpcomingLimit,
	})

	apiServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}
	go func() {
		slog.Info("api server started", "addr", cfg.Server.Address)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("api server error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down")
	sweep.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics shutdown failed", "error", err)
	}

	slog.Info("shutdown complete")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

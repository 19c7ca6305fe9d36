package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/bookiq/internal/adapter/fsm"
	"github.com/neomorfeo/bookiq/internal/adapter/otel"
	"github.com/neomorfeo/bookiq/internal/adapter/policyfile"
	"github.com/neomorfeo/bookiq/internal/adapter/sqlite"
	"github.com/neomorfeo/bookiq/internal/app"
	"github.com/neomorfeo/bookiq/internal/bus"
	"github.com/neomorfeo/bookiq/internal/busycache"
	"github.com/neomorfeo/bookiq/internal/clock"
	"github.com/neomorfeo/bookiq/internal/domain"

	handler "github.com/neomorfeo/bookiq/internal/adapter/http"
)

type config struct {
	Port              string        `default:"8080"`
	DatabasePath      string        `split_words:"true" default:"bookiq.db"`
	PolicySeedPath    string        `split_words:"true" default:"policies.yaml"`
	RunnerPoll        time.Duration `split_words:"true" default:"1s"`
	RunnerConcurrency int           `split_words:"true" default:"4"`
	HoldSweepInterval time.Duration `split_words:"true" default:"30s"`
	BusyCacheTTL      time.Duration `split_words:"true" default:"30s"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var cfg config
	if err := envconfig.Process("bookiq", &cfg); err != nil {
		return err
	}

	ctx := context.Background()
	clk := clock.System()

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.DatabasePath)
	if err != nil {
		return err
	}

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return err
	}
	defer store.Close()

	var jobs domain.JobStore = otel.NewTracingJobStore(store)
	var eventBus domain.EventBus = otel.NewTracingBus(bus.New(logger))

	metrics, err := otel.NewRunnerMetrics()
	if err != nil {
		return err
	}

	// --- Application ---
	audit := app.NewAuditRecorder(store, clk, logger)
	engine := app.NewPolicyEngine(store, logger)
	cache := busycache.New(clk, cfg.BusyCacheTTL)
	holds := app.NewHoldService(store, eventBus, cache, clk, logger)
	availability := app.NewAvailabilityService(&noopCalendar{}, cache, logger)

	admin := app.NewJobAdminService(jobs, fsm.New(), audit, clk, logger)

	reactor := app.NewReactor(jobs, engine, audit, store, store, store, store, clk, logger)
	reactor.Subscribe(eventBus)

	if err := policyfile.Load(ctx, cfg.PolicySeedPath, store, clk, logger); err != nil {
		return err
	}

	// --- Runner ---
	runner := app.NewRunner(jobs, audit, clk, metrics, logger, app.RunnerConfig{
		PollInterval:  cfg.RunnerPoll,
		MaxConcurrent: cfg.RunnerConcurrency,
	})
	for _, jobType := range []string{
		domain.JobTypeBookingConfirmation,
		domain.JobTypeBookingReminder,
		domain.JobTypeCancellationNotice,
		domain.JobTypeHoldFollowup,
		domain.JobTypeWaitlistOffer,
		domain.JobTypeCalendarEscalation,
	} {
		if err := runner.Register(&logExecutor{kind: jobType, logger: logger}); err != nil {
			return err
		}
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}

	// --- Hold sweep ---
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.HoldSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepStop:
				return
			case <-ticker.C:
				if _, err := holds.ExpireDue(ctx); err != nil {
					logger.Error("hold sweep", "error", err)
				}
			}
		}
	}()

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("bookiq", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("bookiq", "0.1.0"))
	handler.Register(api, handler.Services{
		Jobs:         admin,
		Runner:       runner,
		Policies:     store,
		Audit:        audit,
		Bus:          eventBus,
		Availability: availability,
		Clock:        clk,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("bookiq listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	close(sweepStop)
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error("runner stop", "error", err)
	}

	logger.Info("stopped")
	return nil
}

// logExecutor logs the job instead of delivering anything. Hosts replace
// these with executors bound to their mail, SMS, and calendar providers.
type logExecutor struct {
	kind   string
	logger *slog.Logger
}

func (e *logExecutor) Kind() string { return e.kind }

func (e *logExecutor) Execute(ctx context.Context, job domain.Job) error {
	e.logger.InfoContext(ctx, "job executed",
		"job_id", job.ID,
		"type", job.Type,
		"tenant_id", job.TenantID,
		"payload", string(job.Payload),
	)
	return nil
}

// noopCalendar reports every slot as free. Hosts replace it with a real
// provider adapter.
type noopCalendar struct{}

func (noopCalendar) FreeBusy(_ context.Context, _ string, _, _ time.Time) ([]domain.BusyRange, error) {
	return nil, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/krs-enrollment-api/api/swagger"
	"github.com/noah-isme/krs-enrollment-api/internal/handler"
	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	"github.com/noah-isme/krs-enrollment-api/pkg/cache"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
	"github.com/noah-isme/krs-enrollment-api/pkg/database"
	"github.com/noah-isme/krs-enrollment-api/pkg/jobs"
	"github.com/noah-isme/krs-enrollment-api/pkg/logger"
	"github.com/noah-isme/krs-enrollment-api/pkg/messaging"
)

// @title KRS Enrollment API
// @version 1.0.0
// @description Course registration: cart, period gate, eligibility, seat claims, waitlists
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type catalogStore interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetSection(ctx context.Context, id string) (*models.Section, error)
	ListSections(ctx context.Context, courseID string) ([]models.Section, error)
}

type enrollmentStore interface {
	FindOpenEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ListStudentEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	SectionRoster(ctx context.Context, sectionID string) ([]models.Enrollment, error)
	SectionWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
}

type cartStore interface {
	ListCart(ctx context.Context, studentID string) ([]models.CartEntry, error)
	AddCartEntry(ctx context.Context, entry *models.CartEntry, maxItems int) error
	RemoveCartEntry(ctx context.Context, studentID, courseID string) (bool, error)
	ClearCart(ctx context.Context, studentID string) (int, error)
}

type storage struct {
	catalog     catalogStore
	enrollments enrollmentStore
	carts       cartStore
	profiles    interface {
		GetProfile(ctx context.Context, studentID string) (*models.StudentProfile, error)
	}
	periods interface {
		ListPeriods(ctx context.Context, category string) ([]models.EnrollmentPeriod, error)
	}
	audit interface {
		AppendAudit(ctx context.Context, record *models.AuditRecord) error
	}
	ledger  repository.SeatLedger
	observe func(repository.LockObserver)
	ready   handler.ReadinessCheck
	close   func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	store, err := openStorage(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open storage", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer store.close() //nolint:errcheck

	metrics := service.NewMetricsService()
	store.observe(metrics.ObserveLockWait)

	readiness := map[string]handler.ReadinessCheck{"store": store.ready}

	var limiter *service.RateLimiter
	if cfg.RateLimit.Enabled {
		counters, ping, closeCounters := openCounterStore(cfg, logr)
		defer closeCounters()
		if ping != nil {
			readiness["redis"] = ping
		}
		limiter = service.NewRateLimiter(counters, cfg.RateLimit, metrics, logr)
	}

	var dispatcher *jobs.Queue
	if cfg.Audit.PublishEnabled {
		publisher := messaging.NewPublisher(cfg.Audit.RabbitMQURL, cfg.Audit.Queue, logr)
		defer publisher.Close() //nolint:errcheck
		dispatcher = jobs.NewQueue("audit-publisher", service.AuditPublishHandler(publisher), jobs.QueueConfig{
			Workers:    cfg.Audit.Workers,
			BufferSize: 1024,
			MaxRetries: cfg.Audit.Retries,
			RetryDelay: time.Second,
			Logger:     logr,
		})
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
	}

	var audit *service.AuditService
	if dispatcher != nil {
		audit = service.NewAuditService(store.audit, dispatcher, metrics, logr)
	} else {
		audit = service.NewAuditService(store.audit, nil, metrics, logr)
	}

	eligibility := service.NewEligibilityValidator(service.EligibilityPolicy{
		MinStanding:  models.AcademicStanding(cfg.Enrollment.MinAcademicStanding),
		CreditLimits: cfg.Enrollment.CreditLimits,
	})
	capacity := service.NewCapacityManager(store.ledger, store.profiles, eligibility, audit, metrics, service.CapacityConfig{
		OverflowCapacity: cfg.Enrollment.OverflowSectionCapacity,
		Retries:          cfg.Enrollment.SeatClaimRetries,
		RetryDelay:       cfg.Enrollment.SeatClaimRetryDelay,
	}, logr)
	records := service.NewAcademicRecordService(store.profiles, store.enrollments)
	gate := service.NewPeriodGate(store.periods, logr)
	enrollments := service.NewEnrollmentService(store.catalog, store.enrollments, records, gate, eligibility, capacity, metrics, validate, logr)
	carts := service.NewCartService(store.carts, store.catalog, enrollments, records, eligibility, audit, cfg.Enrollment.CartMaxItems, validate, logr)
	tokens := service.NewTokenService(cfg.JWT.Secret)

	routerCfg := handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Metrics:        metrics,
		Tokens:         tokens,
		Enrollments:    handler.NewEnrollmentHandler(enrollments),
		Carts:          handler.NewCartHandler(carts),
		Sections:       handler.NewSectionHandler(enrollments),
		Probes:         handler.NewMetricsHandler(metrics, readiness),
	}
	if limiter != nil {
		routerCfg.RateLimiter = limiter
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*storage, error) {
	if cfg.StoreBackend == config.BackendPostgres {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgresStorage(db), nil
	}

	mem := repository.NewMemoryStore()
	if cfg.CatalogFixture != "" {
		if err := repository.LoadFixtureFile(mem, cfg.CatalogFixture); err != nil {
			return nil, err
		}
		logr.Info("catalog fixture loaded", zap.String("path", cfg.CatalogFixture))
	} else {
		logr.Warn("memory backend started without a catalog fixture")
	}
	return &storage{
		catalog:     mem,
		enrollments: mem,
		carts:       mem,
		profiles:    mem,
		periods:     mem,
		audit:       mem,
		ledger:      mem,
		observe:     mem.SetLockObserver,
		ready:       func(context.Context) error { return nil },
		close:       func() error { return nil },
	}, nil
}

func postgresStorage(db *sqlx.DB) *storage {
	ledger := repository.NewPostgresSeatLedger(db)
	return &storage{
		catalog:     repository.NewCourseRepository(db),
		enrollments: repository.NewEnrollmentRepository(db),
		carts:       repository.NewCartRepository(db),
		profiles:    repository.NewStudentRecordRepository(db),
		periods:     repository.NewPeriodRepository(db),
		audit:       repository.NewAuditRepository(db),
		ledger:      ledger,
		observe:     ledger.SetLockObserver,
		ready:       database.ReadinessCheck(db),
		close:       db.Close,
	}
}

// openCounterStore returns the rate-limit counter store. An unreachable Redis falls
// back to process-local counters.
func openCounterStore(cfg *config.Config, logr *zap.Logger) (repository.CounterStore, handler.ReadinessCheck, func()) {
	if cfg.RateLimit.Backend != config.BackendRedis {
		return repository.NewMemoryCounterStore(nil), nil, func() {}
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, using in-process rate limit counters", zap.Error(err))
		return repository.NewMemoryCounterStore(nil), nil, func() {}
	}
	return repository.NewRedisCounterStore(client), cache.ReadinessCheck(client), func() { _ = client.Close() }
}

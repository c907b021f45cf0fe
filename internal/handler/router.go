package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/middleware"
	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	"github.com/noah-isme/krs-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/krs-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/krs-enrollment-api/pkg/middleware/requestid"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.StudentClaims, error)
}

type rateAllower interface {
	Allow(ctx context.Context, category, identity string) service.RateDecision
}

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool

	Logger      *zap.Logger
	Metrics     *service.MetricsService
	Tokens      tokenValidator
	RateLimiter rateAllower

	Enrollments *EnrollmentHandler
	Carts       *CartHandler
	Sections    *SectionHandler
	Probes      *MetricsHandler
}

// NewRouter builds the gin engine with the common middleware chain and every route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.Probes != nil {
		r.GET("/health", cfg.Probes.Health)
		r.GET("/ready", cfg.Probes.Ready)
		r.GET("/metrics", cfg.Probes.Prometheus)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limit := func(category string) gin.HandlerFunc {
		return middleware.RateLimit(cfg.RateLimiter, category)
	}

	// Rate limits apply before authentication.
	auth := middleware.JWT(cfg.Tokens)
	api := r.Group(cfg.APIPrefix)

	enrollments := api.Group("/enrollments")
	enrollments.POST("", limit(service.RateCategoryEnroll), auth, cfg.Enrollments.Enroll)
	enrollments.POST("/drop", limit(service.RateCategoryEnroll), auth, cfg.Enrollments.Drop)
	enrollments.GET("", limit(service.RateCategorySearch), auth, cfg.Enrollments.ListMine)

	cart := api.Group("/cart", limit(service.RateCategoryCart), auth)
	cart.GET("", cfg.Carts.List)
	cart.DELETE("", cfg.Carts.Clear)
	cart.POST("/items", cfg.Carts.Add)
	cart.DELETE("/items/:courseId", cfg.Carts.Remove)
	cart.POST("/checkout", cfg.Carts.Checkout)

	sections := api.Group("/sections", limit(service.RateCategorySearch), auth)
	sections.GET("/:id/roster", cfg.Sections.Roster)
	sections.GET("/:id/waitlist", cfg.Sections.Waitlist)

	return r
}

package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-marks-engine/internal/handler"
	"github.com/noah-isme/sma-marks-engine/internal/middleware"
	"github.com/noah-isme/sma-marks-engine/internal/models"
	"github.com/noah-isme/sma-marks-engine/internal/service"
	"github.com/noah-isme/sma-marks-engine/pkg/config"
	"github.com/noah-isme/sma-marks-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-marks-engine/pkg/middleware/cors"
	"github.com/noah-isme/sma-marks-engine/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/sma-marks-engine/pkg/middleware/requestid"
	"github.com/noah-isme/sma-marks-engine/pkg/tracing"
)

type routerDeps struct {
	auth       middleware.TokenValidator
	metrics    *service.MetricsService
	marks      *handler.MarksHandler
	grades     *handler.GradeHandler
	attainment *handler.AttainmentHandler
	health     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(tracing.GinMiddleware(cfg.Tracing.ServiceName))
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	throttled := limiter.Middleware()

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth), middleware.ResponseMeta())

	marks := api.Group("/marks")
	marks.POST("/attempts", throttled, middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), deps.marks.SubmitAttempt)
	marks.POST("/freeze-jobs", throttled, middleware.RequireRoles(models.RoleApprover, models.RoleAdmin), deps.marks.ScheduleFreeze)
	marks.GET("/:id", deps.marks.Get)
	marks.GET("/:id/history", deps.marks.History)
	marks.POST("/:id/transitions", throttled, deps.marks.Transition)
	marks.POST("/:id/override", throttled, middleware.RequireRoles(models.RoleTeacher, models.RoleApprover, models.RoleAdmin), deps.marks.Override)

	api.GET("/grades/compute", deps.grades.Compute)
	api.GET("/students/:id/sgpa", deps.grades.SGPA)
	api.GET("/students/:id/cgpa", deps.grades.CGPA)

	api.GET("/cohorts/:id/co/:coId", deps.attainment.CO)
	api.GET("/cohorts/:id/po/:poId", deps.attainment.PO)

	return r
}

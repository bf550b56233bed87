package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/uni-reg-api/api/swagger"
	"github.com/noah-isme/uni-reg-api/internal/handler"
	"github.com/noah-isme/uni-reg-api/internal/middleware"
	"github.com/noah-isme/uni-reg-api/internal/models"
	"github.com/noah-isme/uni-reg-api/internal/repository"
	"github.com/noah-isme/uni-reg-api/internal/service"
	"github.com/noah-isme/uni-reg-api/pkg/cache"
	"github.com/noah-isme/uni-reg-api/pkg/config"
	"github.com/noah-isme/uni-reg-api/pkg/database"
	"github.com/noah-isme/uni-reg-api/pkg/jobs"
	"github.com/noah-isme/uni-reg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-reg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-reg-api/pkg/middleware/requestid"
	"github.com/noah-isme/uni-reg-api/pkg/storage"
)

// @title University Registration API
// @version 0.1.0
// @description Semester course registration with dual approval (fee + advisor)
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	years := repository.NewAcademicYearRepository(db)
	seats := repository.NewSeatLedger()
	offerings := repository.NewOfferingRepository(db)
	selections := repository.NewSelectionRepository(db, seats)
	registrations := repository.NewRegistrationRepository(db, seats)
	fees := repository.NewFeeRepository(db)
	approvals := repository.NewFacultyApprovalRepository(db)
	notifications := repository.NewNotificationRepository(db)
	exports := repository.NewExportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	authSvc := service.NewAuthService(users, cfg.JWT, validate, logr)
	yearSvc := service.NewAcademicYearService(years, cacheRepo, cfg.Registration.CurrentYearCacheTTL, validate, logr)
	offeringSvc := service.NewOfferingService(offerings, cacheRepo, cfg.Registration.OfferingCacheTTL, validate, logr)
	registrationSvc := service.NewRegistrationService(
		registrations, selections, offerings, students, approvals,
		fees, notifications, yearSvc, metricsSvc, validate, logr,
	)
	feeSvc := service.NewFeeService(fees, students, yearSvc, notifications, registrationSvc, validate, logr)
	notificationSvc := service.NewNotificationService(notifications, students, logr)

	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(exports, students, selections, registrations, years, store, signer, metricsSvc, validate, logr)
		exportQueue = jobs.NewQueue("slip_export", exportSvc.HandleJob, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			RetryDelay: 5 * time.Second,
			Logger:     logr,
		})
		exportSvc.SetQueue(exportQueue)
		exportQueue.Start(context.Background())
		defer exportQueue.Stop()
	}

	// HTTP wiring.
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	feeHandler := handler.NewFeeHandler(feeSvc)
	yearHandler := handler.NewAcademicYearHandler(yearSvc)
	offeringHandler := handler.NewOfferingHandler(offeringSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.GET("/auth/profile", authHandler.Profile)

	student := authed.Group("", middleware.RequireRoles(models.RoleStudent))
	student.POST("/registrations/select-course", registrationHandler.SelectCourse)
	student.POST("/registrations/drop-course", registrationHandler.DropCourse)
	student.POST("/registrations/submit", registrationHandler.Submit)
	student.GET("/registrations", registrationHandler.Summary)
	student.POST("/fees", feeHandler.Submit)
	student.GET("/fees", feeHandler.Status)
	student.GET("/notifications", notificationHandler.List)

	faculty := authed.Group("", middleware.RequireRoles(models.RoleFaculty))
	faculty.PUT("/registrations/faculty-decision", registrationHandler.FacultyDecision)
	faculty.GET("/registrations/pending-approvals", registrationHandler.PendingApprovals)

	admin := authed.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.PUT("/fees/:id/decision", feeHandler.Decide)
	admin.GET("/fees/:id/audit", feeHandler.Audit)
	admin.POST("/academic-years", yearHandler.Create)
	admin.PUT("/academic-years/:id/current", yearHandler.SetCurrent)
	admin.POST("/offerings", offeringHandler.Create)
	admin.PATCH("/offerings/:id", offeringHandler.Update)

	authed.GET("/academic-years", yearHandler.List)
	authed.GET("/academic-years/current", yearHandler.Current)
	authed.GET("/offerings", offeringHandler.List)
	authed.GET("/offerings/:id", offeringHandler.Get)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		student.POST("/registrations/export", exportHandler.Request)
		student.GET("/exports/:id", exportHandler.Status)
		// Token carries its own authentication.
		api.GET("/downloads", exportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}

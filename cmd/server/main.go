package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow/internal/config"
	"leadflow/internal/handlers"
	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/observability"
	"leadflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// 初始化链路追踪
	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("setup tracing: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// 构建 Postgres DSN 并连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			appLogger.Warnf("gorm tracing plugin: %v", err)
		}
	}

	if err := db.AutoMigrate(
		&models.Tenant{}, &models.Lead{}, &models.Task{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.AutomationRun{}, &models.AutomationRunAction{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化业务服务
	lock := services.NewWriteLock()
	auditService := services.NewAuditService(db)
	tenantService := services.NewTenantService(db, lock, appLogger)
	leadService := services.NewLeadService(db, lock, appLogger)
	taskService := services.NewTaskService(db, lock, appLogger)
	ruleService := services.NewAutomationRuleService(db, lock, auditService, appLogger)
	selector := services.NewTargetSelector(db, appLogger)
	applier := services.NewActionApplier(db, lock, auditService, appLogger)
	runService := services.NewAutomationRunService(db, lock, ruleService, selector, applier, appLogger, cfg.Automation.DefaultMaxActions)

	// 启动定时自动化任务
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Automation.WorkerEnabled {
		go runService.StartAutomationWorker(workerCtx, cfg.Automation.WorkerInterval)
	}

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Security.CORS.Enabled {
		r.Use(corsMiddleware())
	}
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC(), "version": "v1.0.0"})
	})

	if cfg.Monitoring.Enabled {
		r.GET("/metrics", func(c *gin.Context) {
			runs, byStatus, byOutcome := metrics.AutomationSnapshot()
			c.JSON(http.StatusOK, gin.H{
				"automation_runs":           runs,
				"automation_runs_by_status": byStatus,
				"automation_action_outcome": byOutcome,
			})
		})
	}

	// API 路由组
	api := r.Group("/api")
	handlers.RegisterTenantRoutes(api, handlers.NewTenantHandler(tenantService))
	handlers.RegisterLeadRoutes(api, handlers.NewLeadHandler(leadService, auditService))
	handlers.RegisterTaskRoutes(api, handlers.NewTaskHandler(taskService))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(ruleService, runService))

	// 启动服务器
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Warnf("shutdown tracing: %v", err)
	}
	appLogger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Tenant-ID, X-User-ID, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qi_api/internal/pkg/config"
	"qi_api/internal/pkg/middleware"
	"qi_api/internal/pkg/registry"
	"qi_api/pkg/database"
	"qi_api/pkg/logger"
	"qi_api/pkg/metrics"

	// 模块通过 init 自注册
	_ "qi_api/internal/domain/common"
	_ "qi_api/internal/domain/payment"
	_ "qi_api/internal/domain/user"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	cfg := &config.GlobalConfig

	if err := logger.InitLogger(cfg.App.Env, cfg.App.Debug); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to connect to database", zap.Error(err))
	}
	// 指标缺失不影响收单，仅告警
	if err := database.RegisterPoolMetrics(db, prometheus.DefaultRegisterer); err != nil {
		logger.Log.Warn("Database pool metrics not registered", zap.Error(err))
	}

	rdb, err := database.InitRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	collector := metrics.GetGlobalCollector()
	r.Use(
		middleware.TraceMiddleware(),
		middleware.RecoveryMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.MetricsMiddleware(collector),
		middleware.SecurityHeadersMiddleware(),
		cors.New(corsConfig(cfg.Server.AllowOrigins)),
	)

	// 后台任务使用独立的 ctx，HTTP 停止接收请求后再取消
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if err := registry.InitModules(&registry.ModuleContext{
		Ctx:     bgCtx,
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Router:  r,
		Metrics: collector,
	}); err != nil {
		logger.Log.Fatal("Failed to init modules", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	cancelBg()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Log.Info("Server exited")
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "X-Trace-ID")
	c.MaxAge = 12 * time.Hour
	return c
}

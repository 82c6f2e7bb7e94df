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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldbots/driptape/robot/cache"
	"github.com/fieldbots/driptape/robot/camera"
	"github.com/fieldbots/driptape/robot/config"
	"github.com/fieldbots/driptape/robot/controller"
	"github.com/fieldbots/driptape/robot/handlers"
	"github.com/fieldbots/driptape/robot/middleware"
	"github.com/fieldbots/driptape/robot/serialio"
	"github.com/fieldbots/driptape/robot/settings"
	"github.com/fieldbots/driptape/robot/vision"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	var logger *zap.Logger
	var err error

	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Validate configuration
	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Vision thresholds have no safe defaults; a missing or malformed
	// settings file is fatal.
	store, err := settings.Load(cfg.Robot.SettingsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load cv settings", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serial link to the actuator. Open failure degrades to a disconnected
	// transport so monitoring stays up without the hardware.
	transport := serialio.Open(cfg.Robot.SerialDevice, cfg.Robot.SerialBaud, logger)
	defer transport.Close()

	// Cameras
	cameras := camera.NewMJPEGSource(ctx, cfg.Robot.FrontCameraURL, cfg.Robot.RearCameraURL, logger)

	// Vision pipeline and debug-image encoder pool
	detector := vision.NewDetector(logger)
	encoder := vision.NewEncoder(cfg.Robot.EncoderQueue, cfg.Robot.EncoderWorkers, logger)

	// Control loop
	opts := controller.DefaultOptions()
	opts.Speed = cfg.Robot.DrivingSpeed
	opts.UseHoe = cfg.Robot.UseHoe
	ctrl := controller.New(cameras, detector, encoder, transport, store, opts, logger)
	transport.SetLineHandler(ctrl.HandleSerialLine)

	// Monitoring surface
	frames := cache.NewFrameCache(4, 30*time.Second, logger)
	defer frames.Close()

	api := handlers.NewAPI(ctrl, store, transport, frames, logger)
	pusher := handlers.NewStatePusher(api, logger)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))

	router.GET("/health", middleware.HealthCheck(transport.Connected))
	handlers.RegisterRoutes(router, api, pusher)

	router.Static("/static", "./ui")
	router.StaticFile("/", "./ui/index.html")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	g.Go(func() error {
		return transport.Monitor(gctx)
	})

	g.Go(func() error {
		return pusher.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down...")
	case <-gctx.Done():
		logger.Warn("A background task failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Background task error", zap.Error(err))
	}

	if err := encoder.Shutdown(5 * time.Second); err != nil {
		logger.Error("Failed to shutdown encoder", zap.Error(err))
	}

	logger.Info("Server exited")
}

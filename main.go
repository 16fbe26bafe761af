package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abonnement-backend/config"
	"abonnement-backend/database"
	"abonnement-backend/jobs"
	"abonnement-backend/logger"
	"abonnement-backend/middlewares"
	"abonnement-backend/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// ---- Database (public)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("public migration failed", "error", err)
	}

	auth, err := middlewares.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal("auth not configured", "error", err)
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler(log),
		BodyLimit:    cfg.Server.BodyLimitBytes,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(middlewares.RequestLogger(log))

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	// ---- Global rate limiter (client IP)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimitMax,
		Expiration: cfg.Server.RateLimitWindow,
	}))

	// ---- Routes
	routes.Register(app, routes.Deps{DB: db, Cfg: *cfg, Log: log, Auth: auth})

	// ---- Contract scheduler
	runner := jobs.NewRunner(db, *cfg, log)
	if cfg.Scheduler.Enabled {
		if err := runner.Start(); err != nil {
			log.Fatal("scheduler not started", "error", err)
		}
	}

	// ---- Start
	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal("server stopped", "error", err)
		}
	}()
	log.Info("API server started", "port", cfg.Server.Port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Stop(ctx); err != nil {
		log.Warn("scheduler stop timed out", "error", err)
	}
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Warn("server shutdown failed", "error", err)
	}
	log.Info("API server stopped")
}

package main

import (
	"context"
	"faltas_go/cache"
	"faltas_go/config"
	"faltas_go/database"
	"faltas_go/database/seeders"
	"faltas_go/gateway"
	"faltas_go/middleware"
	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/routes"
	"faltas_go/services"
	"faltas_go/services/websocket"
	"faltas_go/storage"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const (
	serviceName    = "Faltas API"
	serviceVersion = "1.0.0"
)

func init() {
	// Load configuration
	config.LoadConfig()

	// Initialize logging
	setupLogging()

	// Connect to database
	database.Connect()

	if config.AppConfig.SeedOnStart {
		seeders.SeedAll()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Change feed: Redis pub/sub when available, in-process otherwise
	var feed gateway.Feed = gateway.NewLocalFeed()
	if config.AppConfig.UseRedisFeed && database.GetRedisClient() != nil {
		feed = gateway.NewRedisFeed(database.GetRedisClient())
		logrus.Info("Using Redis change feed")
	}
	gw := gateway.New(database.GetDB(), feed)

	// Substitute roster cache
	var rosterCache cache.Policy[[]models.Substitute] = cache.NewTTL[[]models.Substitute](config.AppConfig.SubstituteCacheTTL)
	if config.AppConfig.UseRedisCache && database.GetRedisClient() != nil {
		rosterCache = cache.NewRedis[[]models.Substitute](database.GetRedisClient(), "faltas:substitutes:", config.AppConfig.SubstituteCacheTTL)
		logrus.Info("Using Redis substitute cache")
	}
	roster := repository.NewSubstituteRepository(gw, rosterCache)

	// Absence store
	store := services.NewAbsenceStore(gw, feed, config.AppConfig.PageSize)
	store.SetRoster(roster)
	if err := store.Load(ctx); err != nil {
		logrus.WithError(err).Error("Initial store load failed; serving empty collections until the next reload")
	}

	// Supporting documents
	documents, err := storage.NewDocumentStore()
	if err != nil {
		logrus.WithError(err).Warn("Document storage disabled")
	}
	var lister services.DocumentLister
	if documents != nil {
		lister = documents
	}

	bulk := services.NewBulkGenerator(store, roster)
	exporter := services.NewExportService(gw, lister, config.AppConfig.PageSize, config.AppConfig.ExportChunkSize)
	archive := services.NewExportArchiveService(exporter)

	// Create WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)

	// Background subscribers
	go runUntilDone(ctx, "absence store", store.Run)
	go runUntilDone(ctx, "substitute cache invalidation", func(ctx context.Context) error {
		return roster.Run(ctx, feed)
	})
	go runUntilDone(ctx, "websocket relay", func(ctx context.Context) error {
		return wsHub.Relay(ctx, feed,
			gateway.TableAbsences, gateway.TableTeachers, gateway.TableSubstitutes, gateway.TableLeaves)
	})

	// Scheduled jobs
	scheduler := services.NewScheduler()
	if err := scheduler.Add("store-reconcile", config.AppConfig.ReconcileCron, 2*time.Minute, store.Load); err != nil {
		logrus.WithError(err).Error("Failed to schedule store reconciliation")
	}
	if err := scheduler.Add("export-archive", config.AppConfig.ExportArchiveCron, 10*time.Minute, func(ctx context.Context) error {
		_, err := archive.ArchiveNow(ctx)
		return err
	}); err != nil {
		logrus.WithError(err).Error("Failed to schedule export archive")
	}
	scheduler.Start()

	health := services.NewHealthService(serviceName, serviceVersion, services.MySQLProbe(), services.RedisProbe())
	health.SetStore(store)
	health.AddProbe(documentsProbe(documents))

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(config.AppConfig.MaxFileSize),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Custom middleware
	app.Use(middleware.LoggerMiddleware())

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
			"version": serviceVersion,
		})
	})

	// API routes
	routes.SetupRoutes(app, routes.Dependencies{
		Gateway:   gw,
		Store:     store,
		Roster:    roster,
		Bulk:      bulk,
		Exporter:  exporter,
		Archive:   archive,
		Documents: documents,
		Health:    health,
		Hub:       wsHub,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.Stop(shutdownCtx)
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Server shutdown failed")
		}
	}()

	// Start server (listen on all interfaces for Docker/production)
	port := ":" + config.AppConfig.Port
	logrus.WithFields(logrus.Fields{
		"port":        config.AppConfig.Port,
		"version":     serviceVersion,
		"environment": config.AppConfig.AppEnv,
	}).Info("Server starting")

	if err := app.Listen(port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
	database.Close()
}

// runUntilDone runs a subscriber and logs when it stops early.
func runUntilDone(ctx context.Context, name string, run func(ctx context.Context) error) {
	if err := run(ctx); err != nil {
		logrus.WithError(err).WithField("worker", name).Error("Background worker stopped")
		return
	}
	if ctx.Err() == nil {
		logrus.WithField("worker", name).Warn("Background worker exited before shutdown")
	}
}

// documentsProbe reports the supporting-documents bucket; a missing bucket only degrades.
func documentsProbe(documents *storage.DocumentStore) services.Probe {
	return services.Probe{
		Name: "documents",
		Check: func(ctx context.Context) (map[string]interface{}, error) {
			if documents == nil {
				return nil, services.ErrProbeDisabled
			}
			if err := documents.Ping(ctx); err != nil {
				return nil, err
			}
			return map[string]interface{}{"bucket": documents.Bucket()}, nil
		},
	}
}

// setupLogging configures the logging system
func setupLogging() {
	// Configure logrus
	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Set log level
	level, err := logrus.ParseLevel(config.AppConfig.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// Log to stdout in development
	if config.AppConfig.AppEnv == "development" || config.AppConfig.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}

	// In production, log to file
	if err := os.MkdirAll(filepath.Dir(config.AppConfig.LogFile), 0755); err != nil {
		logrus.WithError(err).Warn("Could not create logs directory")
	}
	file, err := os.OpenFile(config.AppConfig.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Log the error
	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	// Send error response
	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"skiff/internal/controller/api"
	"skiff/internal/controller/lifecycle"
	"skiff/internal/controller/registry"
	"skiff/internal/controller/scheduler"
	signals "skiff/internal/controller/signal"
	"skiff/internal/validator"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	reg, closer := initRegistry()
	if closer != nil {
		defer func() {
			if err := closer(); err != nil {
				log.Printf("error closing registry: %v", err)
			}
		}()
	}

	sched := scheduler.NewRoundRobin()
	signalClient := signals.NewClient(0)
	lc := lifecycle.NewController(reg, sched, signalClient)
	server := api.NewServer(reg, lc)

	e := echo.New()
	e.Validator = validator.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET(
		"/health", func(c echo.Context) error {
			return c.JSON(
				http.StatusOK, map[string]string{
					"status":  "ok",
					"service": "skiff-controller",
				},
			)
		},
	)

	server.RegisterRoutes(e)

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	go lc.StartDispatchLoop(jobsCtx)
	go lc.StartWorkerExpirationChecker(jobsCtx)

	go func() {
		if err := e.Start(":8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	e.Logger.Info("shutting down server...")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}

	e.Logger.Info("server stopped")
}

// initRegistry initializes the task registry based on environment variables
// Returns the registry and an optional closer function
func initRegistry() (registry.Registry, func() error) {
	registryType := os.Getenv("REGISTRY_TYPE")
	if registryType == "" {
		registryType = "memory" // default to in-memory
	}

	switch registryType {
	case "postgres":
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			log.Fatal("DATABASE_URL environment variable is required when REGISTRY_TYPE=postgres")
		}

		pgRegistry, err := registry.NewPostgresRegistry(dbURL)
		if err != nil {
			log.Fatalf("failed to initialize PostgreSQL registry: %v", err)
		}

		log.Println("PostgreSQL registry initialized successfully")
		return pgRegistry, pgRegistry.Close

	case "memory":
		log.Println("using in-memory registry (data will not persist)")
		return registry.NewMemoryRegistry(), nil

	default:
		log.Fatalf("unknown REGISTRY_TYPE: %s (valid options: memory, postgres)", registryType)
		return nil, nil
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"skiff/internal/worker/agent"
)

func main() {
	hostname := flag.String("hostname", "localhost", "Worker hostname as reachable from the controller")
	port := flag.Int("port", 8081, "Worker port")
	controllerURL := flag.String("controller-url", "http://localhost:8080", "Controller API URL")
	capacity := flag.Int("capacity", 0, "Maximum concurrent browser sessions (0 uses the default)")
	image := flag.String("image", "", "Browser container image (empty uses the default)")
	heartbeatInterval := flag.Duration("heartbeat-interval", 30*time.Second, "Heartbeat interval")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	flag.Parse()

	workerAgent, err := agent.NewAgent(*controllerURL, *hostname, *port, *capacity, *image)
	if err != nil {
		log.Fatalf("failed to create agent: %v", err)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := workerAgent.Ping(pingCtx); err != nil {
		log.Fatalf("docker daemon is not reachable: %v", err)
	}
	cancelPing()

	log.Printf("registering worker with controller at %s", *controllerURL)
	if err := workerAgent.Register(context.Background()); err != nil {
		log.Fatalf("failed to register with controller: %v", err)
	}

	workerAgent.Start(*heartbeatInterval)

	server := agent.NewServer(workerAgent)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET(
		"/health", func(c echo.Context) error {
			return c.JSON(
				http.StatusOK, map[string]string{
					"status":   "ok",
					"service":  "skiff-worker",
					"workerId": workerAgent.WorkerID(),
				},
			)
		},
	)

	server.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		log.Printf("worker starting on %s (worker: %s)", addr, workerAgent.WorkerID())
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutdown signal received, beginning graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	log.Println("stopping agent and waiting for running sessions...")
	if err := workerAgent.Shutdown(ctx); err != nil {
		log.Printf("warning: agent shutdown error: %v", err)
	}

	log.Println("shutting down HTTP server...")
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("error during server shutdown: %v", err)
	}

	log.Println("worker stopped gracefully")
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"queuectl/internal/config"
	"queuectl/internal/handler"
	"queuectl/internal/repository"
	"queuectl/internal/service"
)

func main() {
	dbPath := flag.String("db", "queuectl.db", "path to SQLite database")
	port := flag.String("port", "8080", "HTTP server port")
	maxConcurrent := flag.Int("max-concurrent", 5, "max concurrently running jobs accepted at enqueue time")
	maxPerMinute := flag.Int("max-per-minute", 60, "max enqueue submissions per minute")
	flag.Parse()

	repo, err := repository.NewSQLiteRepository(*dbPath)
	if err != nil {
		log.Fatalf("failed to initialize repository: %v", err)
	}
	defer repo.Close()

	cfg, err := config.New(context.Background(), repo)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	rateLimiter := service.NewRateLimiter(*maxConcurrent, *maxPerMinute)
	jobService := service.NewJobService(repo, cfg, rateLimiter)
	dlqService := service.NewDLQService(repo)
	jobHandler := handler.NewJobHandler(jobService, dlqService)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	jobHandler.Routes(r)

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: r,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("API server starting on port %s", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("error shutting down server: %v", err)
	}
	log.Println("server stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"ytgrab/config"
	"ytgrab/database"
	"ytgrab/handlers"
	"ytgrab/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	jobStore := database.NewJobStore(db)
	rateStore := database.NewRateStore(db)

	gate := services.NewRateGate(rateStore, cfg.RateLimit, cfg.RateWindow)
	validator := services.NewValidator(cfg.AllowedDomains)
	runner := services.NewProcessRunner()
	supervisor := services.NewJobSupervisor(jobStore, gate, runner, validator, services.SupervisorConfig{
		YtdlpPath:      cfg.YtdlpPath,
		OngoingDir:     cfg.AbsOngoingDir,
		CompletedDir:   cfg.AbsCompletedDir,
		MaxFileSize:    cfg.MaxFileSize,
		StartupTimeout: cfg.StartupTimeout,
		JobTimeout:     cfg.JobTimeout,
	})
	query := services.NewProgressQuery(jobStore)
	janitor := services.NewJanitor(jobStore, cfg.ArtifactRetention)

	go runSweeps(gate, janitor, cfg.RateWindowIdleTTL)

	http.Handle("/api/download", handlers.NewDownloadHandler(supervisor))
	http.Handle("/api/progress/", handlers.NewProgressHandler(query))
	http.Handle("/api/recent", handlers.NewRecentHandler(query))
	http.Handle("/api/active", handlers.NewActiveHandler(query))
	http.Handle("/api/file/", handlers.NewFileHandler(jobStore))
	http.Handle("/api/cancel/", handlers.NewCancelHandler(supervisor))

	fmt.Printf("Server starting on http://%s\n", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, nil))
}

// runSweeps prunes idle rate windows hourly and expired artifacts daily.
func runSweeps(gate *services.RateGate, janitor *services.Janitor, rateTTL time.Duration) {
	rateTicker := time.NewTicker(time.Hour)
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer rateTicker.Stop()
	defer cleanupTicker.Stop()

	janitor.Sweep(context.Background())
	for {
		select {
		case <-rateTicker.C:
			gate.Sweep(context.Background(), rateTTL)
		case <-cleanupTicker.C:
			janitor.Sweep(context.Background())
		}
	}
}

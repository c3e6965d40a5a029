// cmd/runnerd/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "update-runner/internal/api/http"
	"update-runner/internal/config"
	"update-runner/internal/infra/etcd"
	"update-runner/internal/infra/git"
	"update-runner/internal/infra/script"
	"update-runner/internal/metrics"
	"update-runner/internal/scheduler"
	"update-runner/internal/tracing"
	"update-runner/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("update-runner")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	log.Println("Starting update runner daemon...")

	// 2. Load configuration and the job definition
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	job, err := cfg.Job()
	if err != nil {
		log.Fatalf("Invalid job configuration: %v", err)
	}
	log.Printf("Job: %s (period %s, branch %s)", job.Name, job.Period, job.Branch)

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Init etcd client, run lock, and run history
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	locker := etcd.NewEtcdLocker(etcdClient)
	runRepo := etcd.NewEtcdRunRepository(etcdClient, logger)

	// 6. Instantiate the pipeline components
	gitClient := git.NewClient(job.RepoURL, job.Branch, job.Workdir, logger)
	scriptRunner := script.NewRunner(job.Python, job.Workdir, logger)
	runService := usecase.NewRunService(job, gitClient, scriptRunner, locker, runRepo, cfg.PushTokenEnv, logger)

	// 7. Start the scheduler when the job has a cron expression
	cronScheduler := scheduler.NewCronScheduler(runService, logger)
	if err := cronScheduler.AddJob(job); err != nil {
		log.Fatalf("Failed to schedule job: %v", err)
	}
	go func() {
		if err := cronScheduler.Start(rootCtx); err != nil && err != context.Canceled {
			log.Fatalf("Scheduler stopped with error: %v", err)
		}
	}()

	// 8. Register routes and metrics endpoint
	metrics.Register()
	runHandler := http_api.NewRunHandler(runService, logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	runHandler.RegisterRoutes(mux)

	// 9. Start HTTP API server
	log.Printf("Starting HTTP API server on %s", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:    cfg.HttpListenAddr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 10. Block until shutdown
	<-rootCtx.Done()
	log.Println("Shutting down application gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}

	log.Println("Application shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}

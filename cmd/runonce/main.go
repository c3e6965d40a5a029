// cmd/runonce/main.go
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"update-runner/internal/config"
	"update-runner/internal/domain"
	"update-runner/internal/infra/etcd"
	"update-runner/internal/infra/git"
	"update-runner/internal/infra/local"
	"update-runner/internal/infra/script"
	"update-runner/internal/tracing"
	"update-runner/internal/usecase"
)

func main() {
	annual := flag.Bool("a", false, "collect annual data instead of the configured period")
	quarter := flag.Bool("q", false, "collect quarterly data")
	flag.Parse()
	if *annual && *quarter {
		log.Fatal("specify either -a or -q, not both")
	}

	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("update-runner-once")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 2. Load configuration and the job definition
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	job, err := cfg.Job()
	if err != nil {
		log.Fatalf("Invalid job configuration: %v", err)
	}

	period := job.Period
	if *annual {
		period = domain.PeriodAnnual
	}
	if *quarter {
		period = domain.PeriodQuarterly
	}

	// 3. Root context, cancelled on SIGINT/SIGTERM so a half-finished run
	// aborts instead of pushing a torn state.
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 4. Run lock and history: etcd when endpoints are configured, otherwise
	// in-process only.
	locker := local.NewProcessLocker()
	runRepo := local.NewMemoryRunRepository()
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()
		locker = etcd.NewEtcdLocker(etcdClient)
		runRepo = etcd.NewEtcdRunRepository(etcdClient, logger)
	}

	// 5. Instantiate the pipeline and run it once
	gitClient := git.NewClient(job.RepoURL, job.Branch, job.Workdir, logger)
	scriptRunner := script.NewRunner(job.Python, job.Workdir, logger)
	runService := usecase.NewRunService(job, gitClient, scriptRunner, locker, runRepo, cfg.PushTokenEnv, logger)

	run, err := runService.RunOnce(rootCtx, domain.TriggerManual, period)
	if err != nil {
		if run != nil {
			log.Printf("Run %s finished with status %s: %v", run.ID, run.Status, err)
		} else {
			log.Printf("Run failed to start: %v", err)
		}
		os.Exit(1)
	}
	log.Printf("Run %s succeeded (commit %q)", run.ID, run.Commit)
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Aborting run...", sig)
		cancel()
	}()
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"callscan/internal/analysis"
	"callscan/internal/api"
	"callscan/internal/config"
	"callscan/internal/email"
	"callscan/internal/eventbus"
	"callscan/internal/fetcher"
	"callscan/internal/oracle"
	"callscan/internal/queue"
	"callscan/internal/recovery"
	"callscan/internal/repository"
	"callscan/internal/research"
	"callscan/internal/scheduler"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing callscan pipeline...")
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Oracle: %s (%.1f qps)", cfg.OracleBaseURL, cfg.OracleQPS)
	log.Printf("API Port: %d", cfg.APIPort)

	// 2. Dependencies
	repo, err := repository.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	// 2a. Auto-migration (skip with SKIP_MIGRATION=true for API-only containers)
	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database Migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running Database Migration...")
		if err := repo.Migrate("schema.sql"); err != nil {
			log.Printf("Migration failed: %v", err)
			os.Exit(2)
		}
		log.Println("Database Migration Complete.")
	}

	// Claimant identity for leases. Unique per process so a restarted
	// instance never collides with its dead predecessor's claims.
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	claimant := fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
	log.Printf("Claimant: %s", claimant)

	broker := queue.NewBroker(repo, claimant)
	bus := eventbus.New()
	defer bus.Close()

	oracleClient := oracle.NewClient(cfg.OracleBaseURL, cfg.OracleQPS)

	contentStore, err := analysis.NewContentStore(cfg.ContentDir)
	if err != nil {
		log.Fatalf("Failed to init content store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// 3. Services (all optional so instances can run a single role)
	enableScheduler := os.Getenv("ENABLE_SCHEDULER") != "false"
	enableFetchers := os.Getenv("ENABLE_FETCHERS") != "false"
	enableAnalysis := os.Getenv("ENABLE_ANALYSIS") != "false"
	enableEmail := os.Getenv("ENABLE_EMAIL") != "false"
	enableResearch := os.Getenv("ENABLE_RESEARCH") != "false"
	enableRecovery := os.Getenv("ENABLE_RECOVERY") != "false"

	if enableScheduler {
		sched := scheduler.New(repo, broker, claimant)
		g.Go(func() error {
			sched.Start(ctx)
			return nil
		})
	} else {
		log.Println("Scheduler is DISABLED (ENABLE_SCHEDULER=false)")
	}

	if enableFetchers {
		for i := 0; i < cfg.FetcherWorkers; i++ {
			w := fetcher.NewWorker(repo, broker, oracleClient, bus)
			g.Go(func() error {
				w.Start(ctx)
				return nil
			})
		}
	} else {
		log.Println("Fetchers are DISABLED (ENABLE_FETCHERS=false)")
	}

	if enableAnalysis {
		for i := 0; i < cfg.AnalysisWorkers; i++ {
			w := analysis.NewWorker(repo, broker, oracleClient, contentStore, bus)
			g.Go(func() error {
				w.Start(ctx)
				return nil
			})
		}
	} else {
		log.Println("Analysis workers are DISABLED (ENABLE_ANALYSIS=false)")
	}

	if enableEmail {
		for i := 0; i < cfg.EmailWorkers; i++ {
			w := email.NewWorker(repo, email.SMTPSender{}, claimant, bus)
			g.Go(func() error {
				w.Start(ctx)
				return nil
			})
		}
	} else {
		log.Println("Email workers are DISABLED (ENABLE_EMAIL=false)")
	}

	if enableResearch {
		coord := research.NewCoordinator(repo, broker, email.SMTPSender{}, bus)
		g.Go(func() error {
			coord.Start(ctx)
			return nil
		})
	} else {
		log.Println("Research coordinator is DISABLED (ENABLE_RESEARCH=false)")
	}

	if enableRecovery {
		sweeper := recovery.NewSweeper(repo, broker)
		g.Go(func() error {
			sweeper.Start(ctx)
			return nil
		})
	} else {
		log.Println("Recovery sweeper is DISABLED (ENABLE_RECOVERY=false)")
	}

	// 4. API Server
	api.BuildCommit = BuildCommit
	apiServer := api.NewServer(repo, broker, bus, fmt.Sprintf("%d", cfg.APIPort))
	go func() {
		log.Printf("API server listening on :%d", cfg.APIPort)
		if err := apiServer.Start(); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	// 5. Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown: %v", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("Worker shutdown: %v", err)
	}
	log.Println("Shutdown complete")
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)(\S+)`)
	return re.ReplaceAllString(raw, `$1****`)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rateshopper/config"
	"rateshopper/internal/catalog"
	"rateshopper/internal/db"
	"rateshopper/internal/diff"
	"rateshopper/internal/ops"
	"rateshopper/internal/scheduler"
	"rateshopper/internal/scraper"
	"rateshopper/internal/store"
	"rateshopper/internal/worker"
)

const usage = `usage: rateshopperd <command> [flags]

commands:
  start     run the extraction engine (scheduler + polling worker + ops server)
  status    print the current queue and lock state as JSON
  run-now   force an immediate extraction for a hotel
  config    list schedule rules
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatalf("failed to load configuration from %s", configPath)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize price store")
	}
	appStore := store.NewGormStore(gormDB)

	switch os.Args[1] {
	case "start":
		runStart(cfg, appStore, logger)
	case "status":
		runStatus(appStore, logger)
	case "run-now":
		runNow(os.Args[2:], cfg, appStore, logger)
	case "config":
		runConfig(appStore, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// runStart runs the engine until SIGINT/SIGTERM, then stops gracefully.
func runStart(cfg *config.Config, appStore store.Store, logger *logrus.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.New(appStore)
	registry := scraper.NewRegistry(cfg.Scraper)
	diffEngine := diff.NewEngine(appStore, logger)
	processor := worker.New(cfg.Worker, cfg.Scraper, appStore, cat, registry, diffEngine, logger)
	sched := scheduler.New(cfg.Scheduler, appStore, cat, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		processor.Run(ctx)
	}()

	opsServer := ops.NewServer(cfg.Ops, appStore, logger)
	go func() {
		logger.WithField("addr", opsServer.Addr).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("ops server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("ops server shutdown")
	}
	wg.Wait()
	logger.Info("engine stopped")
}

// runStatus prints the queue snapshot as JSON.
func runStatus(appStore store.Store, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := appStore.QueueSnapshot(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to read queue state")
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("failed to encode snapshot")
	}
	fmt.Println(string(out))
}

// runNow inserts an immediate PENDING search for a hotel, bypassing cron.
func runNow(args []string, cfg *config.Config, appStore store.Store, logger *logrus.Logger) {
	fs := flag.NewFlagSet("run-now", flag.ExitOnError)
	hotelID := fs.Uint64("hotel", 0, "hotel id to extract (required)")
	propertyID := fs.Uint64("property", 0, "restrict to one property id (optional)")
	days := fs.Int("days", 0, "check-in window in days (defaults to scheduler default)")
	_ = fs.Parse(args)

	if *hotelID == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cat := catalog.New(appStore)
	sched := scheduler.New(cfg.Scheduler, appStore, cat, logger)

	var propPtr *uint64
	if *propertyID != 0 {
		propPtr = propertyID
	}
	created, err := sched.Materialize(ctx, *hotelID, propPtr, *days)
	if err != nil {
		logger.WithError(err).Fatal("failed to create search")
	}
	if !created {
		fmt.Println("no search created: an equivalent search is already pending or running")
		return
	}
	fmt.Printf("search created for hotel %d\n", *hotelID)
}

// runConfig lists the schedule rules, flagging invalid ones.
func runConfig(appStore store.Store, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rules, err := appStore.AllRules(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to list schedule rules")
	}
	if len(rules) == 0 {
		fmt.Println("no schedule rules configured")
		return
	}
	for i := range rules {
		r := &rules[i]
		state := "disabled"
		if r.Enabled {
			state = "enabled"
		}
		if err := scheduler.ValidateRule(r); err != nil {
			state += " (INVALID: " + err.Error() + ")"
		}
		scope := "all hotels"
		if r.HotelID != nil {
			scope = fmt.Sprintf("hotel %d", *r.HotelID)
			if r.PropertyID != nil {
				scope += fmt.Sprintf(", property %d", *r.PropertyID)
			}
		}
		fmt.Printf("%-24s %-16s %-8s tz=%-20s window=%dd scope=%s  %s\n",
			r.Name, r.CronExpr, state, r.Timezone, r.WindowDays, scope, r.Description)
	}
}

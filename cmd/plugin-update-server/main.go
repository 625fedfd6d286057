package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offgrid-updates/update-server/internal/config"
	"github.com/offgrid-updates/update-server/internal/importer"
	"github.com/offgrid-updates/update-server/internal/metrics"
	"github.com/offgrid-updates/update-server/internal/server"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func run(log *logrus.Logger) error {
	log.Println("loading configuration...")
	cfg, err := config.NewServerConfigFromEnv()
	if err != nil {
		return err
	}
	cfg.Version = version

	if !cfg.DisableMetrics {
		log.Println("setting up metrics exporter...")
		exporter, err := metrics.NewExporter(cfg)
		if err != nil {
			return err
		}
		defer func() {
			exporter.StopMetricsExporter()
			exporter.Flush()
		}()
	}

	log.Printf("setting up %s storage...", cfg.StorageBackend)
	store, err := cfg.CreateStore()
	if err != nil {
		return err
	}

	log.Println("setting up GitHub client...")
	ghClient := cfg.CreateGitHubClient()

	imp := importer.New(log, ghClient, store)
	if cfg.ImportSchedule != "" {
		log.Printf("scheduling GitHub sync (%s)...", cfg.ImportSchedule)
		scheduler, err := importer.NewScheduler(imp, cfg.GitHubSources, cfg.ImportSchedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	log.Println("starting server...")
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           server.New(log, store, imp, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	log.Println("stopping server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func main() {
	log := setupLogger()
	if err := run(log); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/db"
	"seg-eval/internal/logging"
	"seg-eval/internal/storage"
	"seg-eval/internal/telemetry"
	"seg-eval/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "path to segeval.yaml (default: ./segeval.yaml if present)")
	metricsAddr := flag.String("metrics-addr", ":9100", "address serving /metrics; empty disables it")
	flag.Parse()

	cfg, err := config.Read(*cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot read configuration")
	}
	logging.Configure(cfg.Logging)
	log := logging.For("worker")

	ctx := context.Background()
	dbase, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer dbase.Close()
	s3c, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("object store unavailable")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if err := worker.Run(cfg, dbase, s3c); err != nil {
		log.WithError(err).Fatal("worker stopped")
	}
}

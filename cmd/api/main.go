package main

import (
	"context"
	"flag"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/db"
	httpSrv "seg-eval/internal/http"
	"seg-eval/internal/logging"
	"seg-eval/internal/migrations"
)

func main() {
	cfgPath := flag.String("config", "", "path to segeval.yaml (default: ./segeval.yaml if present)")
	flag.Parse()

	cfg, err := config.Read(*cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot read configuration")
	}
	logging.Configure(cfg.Logging)
	log := logging.For("api")

	// Run embedded migrations (idempotent)
	if err := migrations.Run(cfg.Database.URL); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	dbase, err := db.Open(context.Background(), cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer dbase.Close()
	asq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr})
	defer asq.Close()

	srv := httpSrv.NewServer(cfg.API, dbase, asq)
	log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

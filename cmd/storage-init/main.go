package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"todos/config"
	"todos/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.StorageMode != config.ModeAzure {
		log.Infof("storage mode %s needs no provisioning", cfg.StorageMode)
		return
	}
	log.Info("storage init starting")

	ctx := context.Background()
	if err := storage.EnsureTables(ctx, cfg.ConnectionString, cfg.TodosTable); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.EnsureQueues(ctx, cfg.ConnectionString, cfg.EventsQueue); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.WithFields(log.Fields{
		"table": cfg.TodosTable,
		"queue": cfg.EventsQueue,
	}).Info("storage init complete")
}

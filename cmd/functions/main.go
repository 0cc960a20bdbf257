package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todos/config"
	"todos/functions"
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

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Errorf("shutdown tracer provider: %v", err)
		}
	}()

	logger := log.StandardLogger()

	var open storage.Opener
	switch cfg.StorageMode {
	case config.ModeMemory:
		log.Warn("using in-memory storage; todos are lost on restart")
		open = storage.NewMemory().Opener()
	default:
		open, err = storage.NewTableOpener(cfg.ConnectionString, cfg.TodosTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
	}

	var decorators []storage.Decorator
	if cfg.EventsQueue != "" {
		if cfg.StorageMode != config.ModeAzure {
			log.Fatal("TODO_EVENTS_QUEUE requires STORAGE_MODE=azure")
		}
		publisher, err := storage.NewQueuePublisher(cfg.ConnectionString, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		decorators = append(decorators, storage.WithEvents(publisher, logger))
	}
	if cfg.RedisConnection != "" {
		rc := redis.NewClient(redisOptions(cfg.RedisConnection))
		defer rc.Close()
		decorators = append(decorators, storage.WithCache(rc, cfg.TodosTable, cfg.CacheTTL))
	}
	client := storage.NewClient(open, decorators...)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(echoprometheus.NewMiddleware("todos"))
	e.GET("/metrics", echoprometheus.NewHandler())

	functions.Register(e, client, logger, cfg.PathPrefix)

	log.WithFields(log.Fields{
		"addr":    cfg.ListenAddr,
		"prefix":  cfg.PathPrefix,
		"storage": cfg.StorageMode,
	}).Info("todo functions listening")
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

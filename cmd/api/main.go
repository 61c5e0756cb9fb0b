package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "reviewsync/internal/adapters/http_server"
	"reviewsync/internal/adapters/observability"
	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/adapters/yandex"
	"reviewsync/internal/app"
	"reviewsync/internal/shared"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	queue := redisad.NewQueue(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.QueueKey)
	resolver := yandex.NewResolver(cfg.DefaultMirror)
	static := yandex.NewStaticExtractor()

	q := app.NewQueryService(repo, repo, cache, cfg.CacheTTL, resolver, static)
	settings := app.NewSettingsService(repo, cache)
	trigger := app.NewSyncTrigger(repo, queue)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Settings: settings, Q: q, Sync: trigger})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

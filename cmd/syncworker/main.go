package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reviewsync/internal/adapters/observability"
	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/adapters/yandex"
	"reviewsync/internal/app"
	"reviewsync/internal/shared"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

func main() {
	oneShot := flag.Int64("user", 0, "sync this user once and exit")
	flag.Parse()

	ctx := context.Background()
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Int("workers", cfg.Workers).
		Str("queue", cfg.QueueKey).
		Bool("headless", cfg.Headless).
		Msg("sync worker starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	queue := redisad.NewQueue(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.QueueKey)
	resolver := yandex.NewResolver(cfg.DefaultMirror)
	extractor := yandex.NewBrowserExtractor(cfg.ChromePath, cfg.Headless)

	svc := app.NewSyncService(resolver, extractor, repo, repo, cache)

	runOne := func(userID int64) {
		runCtx, cancel := context.WithTimeout(ctx, cfg.SyncTimeout)
		defer cancel()

		if err := svc.Run(runCtx, userID); err != nil {
			log.Warn().Int64("user", userID).Err(err).Msg("sync failed")
			return
		}
		log.Info().Int64("user", userID).Msg("sync ok")
	}

	if *oneShot > 0 {
		runOne(*oneShot)
		return
	}

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for {
		job, err := queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Warn().Err(err).Msg("dequeue failed")
			continue
		}

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			defer sem.Release(int64(1))
			runOne(userID)
		}(job.UserID)
	}

	wg.Wait()
	log.Info().Msg("sync worker stopped")
}

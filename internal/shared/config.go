package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	QueueKey string
	Workers  int

	// Browser extractor knobs.
	ChromePath  string // empty lets chromedp locate the binary
	Headless    bool
	SyncTimeout time.Duration // upper bound for one whole interactive run

	DefaultMirror string // mirror host used when the URL carries no marker
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	abool := func(k string, def bool) bool {
		if v := os.Getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return def
	}
	c := Config{
		AppEnv:        env("APP_ENV", "prod"),
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		MetricsAddr:   env("METRICS_ADDR", ":9100"),
		MySQLDSN:      env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reviewsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPass:     env("REDIS_PASSWORD", ""),
		RedisDB:       atoi("REDIS_DB", 0),
		CacheTTL:      time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		QueueKey:      env("SYNC_QUEUE_KEY", "reviewsync:jobs"),
		Workers:       atoi("SYNC_WORKERS", 2),
		ChromePath:    env("CHROME_PATH", ""),
		Headless:      abool("CHROME_HEADLESS", true),
		SyncTimeout:   time.Duration(atoi("SYNC_TIMEOUT_SECONDS", 480)) * time.Second,
		DefaultMirror: env("YANDEX_DEFAULT_MIRROR", "yandex.ru"),
	}
	if c.Workers < 1 {
		log.Warn().Int("workers", c.Workers).Msg("SYNC_WORKERS below 1, using 1")
		c.Workers = 1
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

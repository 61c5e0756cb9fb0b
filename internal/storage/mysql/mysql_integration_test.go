//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"reviewsync/internal/domain"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

// ---------- small helpers ----------
func pstr(s string) *string        { return &s }
func pint(i int) *int              { return &i }
func pfloat(f float64) *float64    { return &f }
func ptime(t time.Time) *time.Time { return &t }

func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Fatalf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/sql)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=reviewsync",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		"root", hostPort, "reviewsync")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

// ---------- the test ----------
func TestRepo_MySQL_SyncLifecycle(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()
	const userID = int64(7)

	// Absent settings read as not found.
	if _, err := repo.Get(ctx, userID); err != domain.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// Save a URL, read it back.
	st, err := repo.SaveSourceURL(ctx, userID, "https://yandex.ru/maps/org/cafe/1234567890/reviews/")
	if err != nil {
		t.Fatalf("SaveSourceURL: %v", err)
	}
	if st.SourceURL == nil || st.SyncStatus != domain.SyncIdle {
		t.Fatalf("settings after save: %+v", st)
	}

	// Claim a run; a second claim must lose.
	ok, err := repo.TryMarkPending(ctx, userID, "Queued...")
	if err != nil || !ok {
		t.Fatalf("TryMarkPending: ok=%v err=%v", ok, err)
	}
	ok, err = repo.TryMarkPending(ctx, userID, "Queued...")
	if err != nil || ok {
		t.Fatalf("second claim must be refused: ok=%v err=%v", ok, err)
	}

	if err := repo.SetSyncStatus(ctx, userID, domain.SyncRunning, "Opening Yandex Maps..."); err != nil {
		t.Fatalf("SetSyncStatus: %v", err)
	}

	// Store the harvested set.
	reviews := []domain.Review{
		{UserID: userID, ExternalID: "a", Author: "Ana", Rating: 5, Text: "great",
			Branch: pstr("Main"), ReviewedAt: ptime(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))},
		{UserID: userID, ExternalID: "b", Author: "Bob", Rating: 3,
			ReviewedAt: ptime(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))},
		{UserID: userID, ExternalID: "c", Author: "Cleo", Rating: 4},
	}
	if err := repo.ReplaceReviews(ctx, userID, reviews); err != nil {
		t.Fatalf("ReplaceReviews: %v", err)
	}

	if err := repo.SetSyncResult(ctx, userID, pfloat(4.5), pint(3), "Synced 3 reviews"); err != nil {
		t.Fatalf("SetSyncResult: %v", err)
	}

	st, err = repo.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.SyncStatus != domain.SyncCompleted || st.Rating == nil || *st.Rating != 4.5 {
		t.Fatalf("settings after sync: %+v", st)
	}
	if st.LastSyncedAt == nil {
		t.Fatal("last_synced_at not set")
	}

	// Newest first; nulls last.
	pg, err := repo.ListReviews(ctx, userID, domain.PageQuery{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if pg.Total != 3 || pg.LastPage != 2 || len(pg.Items) != 2 {
		t.Fatalf("page: %+v", pg)
	}
	if pg.Items[0].ExternalID != "b" || pg.Items[1].ExternalID != "a" {
		t.Fatalf("order: %s %s", pg.Items[0].ExternalID, pg.Items[1].ExternalID)
	}

	// Re-running the same set converges instead of duplicating.
	if err := repo.ReplaceReviews(ctx, userID, reviews); err != nil {
		t.Fatalf("ReplaceReviews again: %v", err)
	}
	if n, _ := repo.CountReviews(ctx, userID); n != 3 {
		t.Fatalf("count after re-sync: %d", n)
	}

	// A changed URL wipes reviews and aggregates.
	st, err = repo.SaveSourceURL(ctx, userID, "https://yandex.ru/maps/org/other/9876543210/reviews/")
	if err != nil {
		t.Fatalf("SaveSourceURL change: %v", err)
	}
	if st.Rating != nil || st.LastSyncedAt != nil {
		t.Fatalf("aggregates survived a URL change: %+v", st)
	}
	if n, _ := repo.CountReviews(ctx, userID); n != 0 {
		t.Fatalf("reviews survived a URL change: %d", n)
	}
}

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reviewsync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

/********** settings **********/

func (r *Repo) Get(ctx context.Context, userID int64) (domain.Settings, error) {
	return scanSettings(r.db.QueryRowContext(ctx, getSettingsSQL, userID))
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSettings(row rowScanner) (domain.Settings, error) {
	var st domain.Settings
	var (
		url, message sql.NullString
		rating       sql.NullFloat64
		total        sql.NullInt64
		syncedAt     sql.NullTime
		status       sql.NullString
	)
	if err := row.Scan(&st.UserID, &url, &rating, &total, &syncedAt, &status, &message, &st.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Settings{}, domain.ErrNotFound
		}
		return domain.Settings{}, err
	}
	if url.Valid {
		s := url.String
		st.SourceURL = &s
	}
	if rating.Valid {
		f := rating.Float64
		st.Rating = &f
	}
	if total.Valid {
		n := int(total.Int64)
		st.TotalReviews = &n
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		st.LastSyncedAt = &t
	}
	st.SyncStatus = domain.SyncIdle
	if status.Valid && status.String != "" {
		st.SyncStatus = domain.SyncStatus(status.String)
	}
	if message.Valid {
		m := message.String
		st.SyncMessage = &m
	}
	return st, nil
}

// SaveSourceURL upserts the URL; when it actually changed, the old org's
// reviews and cached aggregates are wiped in the same transaction.
func (r *Repo) SaveSourceURL(ctx context.Context, userID int64, url string) (domain.Settings, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settings{}, err
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT yandex_url FROM settings WHERE user_id = ? FOR UPDATE`, userID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return domain.Settings{}, err
	}
	changed := existing.Valid && existing.String != url

	if _, err := tx.ExecContext(ctx, upsertSettingsURLSQL, userID, url); err != nil {
		return domain.Settings{}, err
	}
	if changed {
		if _, err := tx.ExecContext(ctx, deleteReviewsSQL, userID); err != nil {
			return domain.Settings{}, err
		}
		if _, err := tx.ExecContext(ctx, clearAggregatesSQL, userID); err != nil {
			return domain.Settings{}, err
		}
	}

	st, err := scanSettingsTx(ctx, tx, userID)
	if err != nil {
		return domain.Settings{}, err
	}
	return st, tx.Commit()
}

func scanSettingsTx(ctx context.Context, tx *sql.Tx, userID int64) (domain.Settings, error) {
	return scanSettings(tx.QueryRowContext(ctx, getSettingsSQL, userID))
}

func (r *Repo) TryMarkPending(ctx context.Context, userID int64, message string) (bool, error) {
	res, err := r.db.ExecContext(ctx, tryMarkPendingSQL, message, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) SetSyncStatus(ctx context.Context, userID int64, status domain.SyncStatus, message string) error {
	_, err := r.db.ExecContext(ctx, setSyncStatusSQL, string(status), message, userID)
	return err
}

func (r *Repo) SetSyncResult(ctx context.Context, userID int64, rating *float64, total *int, message string) error {
	_, err := r.db.ExecContext(ctx, setSyncResultSQL, message, valF64(rating), valInt(total), userID)
	return err
}

/********** reviews **********/

func (r *Repo) ReplaceReviews(ctx context.Context, userID int64, rs []domain.Review) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteReviewsSQL, userID); err != nil {
		return err
	}
	if err := bulkInsertReviews(ctx, tx, rs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) DeleteReviews(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, deleteReviewsSQL, userID)
	return err
}

const insertChunk = 500

func bulkInsertReviews(ctx context.Context, tx *sql.Tx, rs []domain.Review) error {
	for start := 0; start < len(rs); start += insertChunk {
		end := start + insertChunk
		if end > len(rs) {
			end = len(rs)
		}
		chunk := rs[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*8)
		for _, rv := range chunk {
			values = append(values, "(?,?,?,?,?,?,?,?)")
			var reviewedAt any
			if rv.ReviewedAt != nil {
				reviewedAt = *rv.ReviewedAt
			}
			args = append(args,
				rv.UserID,
				rv.ExternalID,
				rv.Author,
				rv.Rating,
				rv.Text,
				valStr(rv.Branch),
				valStr(rv.Phone),
				reviewedAt,
			)
		}
		sqlStr := insertReviewsPrefix + strings.Join(values, ",") + insertReviewsOnDup
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("bulk insert reviews: %w", err)
		}
	}
	return nil
}

func (r *Repo) ListReviews(ctx context.Context, userID int64, pg domain.PageQuery) (domain.ReviewsPage, error) {
	if pg.Page < 1 {
		pg.Page = 1
	}
	if pg.PerPage < 1 {
		pg.PerPage = 50
	}

	total, err := r.CountReviews(ctx, userID)
	if err != nil {
		return domain.ReviewsPage{}, err
	}

	offset := (pg.Page - 1) * pg.PerPage
	rows, err := r.db.QueryContext(ctx, listReviewsSQL, userID, pg.PerPage, offset)
	if err != nil {
		return domain.ReviewsPage{}, err
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		var rv domain.Review
		var (
			branch, phone sql.NullString
			reviewedAt    sql.NullTime
		)
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.ExternalID, &rv.Author, &rv.Rating, &rv.Text, &branch, &phone, &reviewedAt); err != nil {
			return domain.ReviewsPage{}, err
		}
		if branch.Valid {
			b := branch.String
			rv.Branch = &b
		}
		if phone.Valid {
			p := phone.String
			rv.Phone = &p
		}
		if reviewedAt.Valid {
			t := reviewedAt.Time
			rv.ReviewedAt = &t
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return domain.ReviewsPage{}, err
	}

	lastPage := (total + pg.PerPage - 1) / pg.PerPage
	if lastPage < 1 {
		lastPage = 1
	}
	return domain.ReviewsPage{
		Items:    out,
		Page:     pg.Page,
		PerPage:  pg.PerPage,
		Total:    total,
		LastPage: lastPage,
	}, nil
}

func (r *Repo) CountReviews(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countReviewsSQL, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

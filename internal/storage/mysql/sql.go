package mysql

const getSettingsSQL = `
SELECT user_id, yandex_url, rating, total_reviews, last_synced_at,
       sync_status, sync_message, updated_at
FROM settings
WHERE user_id = ?
`

const upsertSettingsURLSQL = `
INSERT INTO settings (user_id, yandex_url, sync_status, sync_message)
VALUES (?, ?, 'idle', NULL)
ON DUPLICATE KEY UPDATE
  yandex_url   = VALUES(yandex_url),
  sync_status  = 'idle',
  sync_message = NULL
`

const clearAggregatesSQL = `
UPDATE settings
SET rating = NULL, total_reviews = NULL, last_synced_at = NULL
WHERE user_id = ?
`

// The claim is atomic relative to the owner's row: a concurrent trigger
// loses on the status predicate.
const tryMarkPendingSQL = `
UPDATE settings
SET sync_status = 'pending', sync_message = ?
WHERE user_id = ?
  AND yandex_url IS NOT NULL
  AND sync_status NOT IN ('pending', 'running')
`

const setSyncStatusSQL = `
UPDATE settings
SET sync_status = ?, sync_message = ?
WHERE user_id = ?
`

const setSyncResultSQL = `
UPDATE settings
SET sync_status = 'completed', sync_message = ?,
    rating = ?, total_reviews = ?, last_synced_at = CURRENT_TIMESTAMP
WHERE user_id = ?
`

const deleteReviewsSQL = `DELETE FROM reviews WHERE user_id = ?`

// Note: `text` is reserved; keep it quoted everywhere.
const insertReviewsPrefix = "INSERT INTO reviews\n  (user_id, external_id, author, rating, `text`, branch, phone, reviewed_at)\nVALUES "

// Replacement rows win wholesale; identity is (user_id, external_id).
const insertReviewsOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  author      = VALUES(author),\n" +
	"  rating      = VALUES(rating),\n" +
	"  `text`      = VALUES(`text`),\n" +
	"  branch      = VALUES(branch),\n" +
	"  phone       = VALUES(phone),\n" +
	"  reviewed_at = VALUES(reviewed_at)\n"

const listReviewsSQL = `
SELECT id, user_id, external_id, author, rating, ` + "`text`" + `, branch, phone, reviewed_at
FROM reviews
WHERE user_id = ?
ORDER BY reviewed_at DESC, id DESC
LIMIT ? OFFSET ?
`

const countReviewsSQL = `SELECT COUNT(*) FROM reviews WHERE user_id = ?`

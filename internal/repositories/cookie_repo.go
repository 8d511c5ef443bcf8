package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hqzhang/indexhunter/internal/database"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/jackc/pgx/v5"
)

// CookieRepository handles database operations for cookie accounts. The
// cookie_accounts table is the source of truth for availability and ban
// state; the cache mirror is rewritten from it.
type CookieRepository struct {
	db *database.DB
}

// NewCookieRepository creates a new CookieRepository
func NewCookieRepository(db *database.DB) *CookieRepository {
	return &CookieRepository{db: db}
}

const cookieColumns = `account_id, fields, is_available, is_permanently_banned, temp_ban_until, expire_time, last_used_at, created_at, updated_at`

// rowScanner interface for scanning account rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCookieRow(scanner rowScanner) (*models.CookieAccount, error) {
	var acct models.CookieAccount
	var fieldsJSON []byte

	err := scanner.Scan(
		&acct.AccountID, &fieldsJSON, &acct.IsAvailable, &acct.IsPermanentlyBanned,
		&acct.TempBanUntil, &acct.ExpireTime, &acct.LastUsedAt,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(fieldsJSON, &acct.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal cookie fields: %w", err)
	}

	return &acct, nil
}

func scanCookieRows(rows pgx.Rows) ([]*models.CookieAccount, error) {
	defer rows.Close()

	accounts := make([]*models.CookieAccount, 0)

	for rows.Next() {
		acct, err := scanCookieRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

// Upsert inserts or refreshes an account's credential set. Re-ingesting
// credentials resets any ban state: fresh cookies supersede whatever got the
// old ones banned.
func (r *CookieRepository) Upsert(ctx context.Context, acct *models.CookieAccount) error {
	fieldsJSON, err := json.Marshal(acct.Fields)
	if err != nil {
		return fmt.Errorf("marshal cookie fields: %w", err)
	}

	query := `
		INSERT INTO cookie_accounts (account_id, fields, is_available, is_permanently_banned, temp_ban_until, expire_time)
		VALUES ($1, $2, true, false, NULL, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			fields = EXCLUDED.fields,
			is_available = true,
			is_permanently_banned = false,
			temp_ban_until = NULL,
			expire_time = EXCLUDED.expire_time,
			updated_at = NOW()
	`

	_, err = r.db.Pool.Exec(ctx, query, acct.AccountID, fieldsJSON, acct.ExpireTime)
	return database.MapPostgresError(err)
}

// GetByAccountID returns one account or models.ErrNotFound.
func (r *CookieRepository) GetByAccountID(ctx context.Context, accountID string) (*models.CookieAccount, error) {
	query := `SELECT ` + cookieColumns + ` FROM cookie_accounts WHERE account_id = $1`
	return scanCookieRow(r.db.Pool.QueryRow(ctx, query, accountID))
}

// GetAvailable returns every account that may currently be selected:
// available, not permanently banned, not under an active temporary ban, and
// not past its credential expiry.
func (r *CookieRepository) GetAvailable(ctx context.Context) ([]*models.CookieAccount, error) {
	query := `
		SELECT ` + cookieColumns + ` FROM cookie_accounts
		WHERE is_available = true
		  AND is_permanently_banned = false
		  AND (temp_ban_until IS NULL OR temp_ban_until < NOW())
		  AND (expire_time IS NULL OR expire_time > NOW())
		ORDER BY account_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanCookieRows(rows)
}

// ListAll returns every account regardless of state.
func (r *CookieRepository) ListAll(ctx context.Context) ([]*models.CookieAccount, error) {
	query := `SELECT ` + cookieColumns + ` FROM cookie_accounts ORDER BY account_id`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return scanCookieRows(rows)
}

// ListAccountIDs returns all account IDs.
func (r *CookieRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	query := `SELECT account_id FROM cookie_accounts ORDER BY account_id`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BanTemporarily marks an account unavailable until the given time. Returns
// the number of rows changed (0 when the account does not exist).
func (r *CookieRepository) BanTemporarily(ctx context.Context, accountID string, until time.Time) (int64, error) {
	query := `
		UPDATE cookie_accounts
		SET is_available = false, temp_ban_until = $2, updated_at = NOW()
		WHERE account_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, accountID, until)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// BanPermanently marks an account permanently unavailable. Idempotent:
// banning an already-banned account rewrites the same state.
func (r *CookieRepository) BanPermanently(ctx context.Context, accountID string) (int64, error) {
	query := `
		UPDATE cookie_accounts
		SET is_available = false, is_permanently_banned = true, temp_ban_until = NULL, updated_at = NOW()
		WHERE account_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// Unban clears a temporary ban. Permanently banned accounts are left
// untouched; the returned count tells the caller whether anything changed.
func (r *CookieRepository) Unban(ctx context.Context, accountID string) (int64, error) {
	query := `
		UPDATE cookie_accounts
		SET is_available = true, temp_ban_until = NULL, updated_at = NOW()
		WHERE account_id = $1 AND is_permanently_banned = false
	`

	tag, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ForceUnban clears any ban state unconditionally, permanent bans included.
func (r *CookieRepository) ForceUnban(ctx context.Context, accountID string) (int64, error) {
	query := `
		UPDATE cookie_accounts
		SET is_available = true, is_permanently_banned = false, temp_ban_until = NULL, updated_at = NOW()
		WHERE account_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpiredBans restores every account whose temporary ban has lapsed and
// returns their IDs. Safe to run repeatedly: a second sweep matches nothing.
func (r *CookieRepository) SweepExpiredBans(ctx context.Context) ([]string, error) {
	query := `
		UPDATE cookie_accounts
		SET is_available = true, temp_ban_until = NULL, updated_at = NOW()
		WHERE temp_ban_until IS NOT NULL
		  AND temp_ban_until <= NOW()
		  AND is_permanently_banned = false
		RETURNING account_id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateLastUsed records when an account was last handed out.
func (r *CookieRepository) UpdateLastUsed(ctx context.Context, accountID string, usedAt time.Time) error {
	query := `UPDATE cookie_accounts SET last_used_at = $2, updated_at = NOW() WHERE account_id = $1`

	_, err := r.db.Pool.Exec(ctx, query, accountID, usedAt)
	return database.MapPostgresError(err)
}

// DeleteByAccountID removes an account and returns the number of rows deleted.
func (r *CookieRepository) DeleteByAccountID(ctx context.Context, accountID string) (int64, error) {
	query := `DELETE FROM cookie_accounts WHERE account_id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// CleanupExpired purges accounts whose credentials are past expire_time.
func (r *CookieRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM cookie_accounts WHERE expire_time IS NOT NULL AND expire_time <= NOW()`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus aggregates account states for reporting.
func (r *CookieRepository) CountByStatus(ctx context.Context) (*models.PoolStatusCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_available = true
				AND is_permanently_banned = false
				AND (temp_ban_until IS NULL OR temp_ban_until < NOW())
				AND (expire_time IS NULL OR expire_time > NOW())),
			COUNT(*) FILTER (WHERE is_permanently_banned = false
				AND temp_ban_until IS NOT NULL AND temp_ban_until > NOW()),
			COUNT(*) FILTER (WHERE is_permanently_banned = true)
		FROM cookie_accounts
	`

	var counts models.PoolStatusCounts
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&counts.Total, &counts.Available, &counts.TempBanned, &counts.PermBanned,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &counts, nil
}

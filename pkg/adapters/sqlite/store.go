// Package sqlite provides a SQLite-backed conversation store.
//
// Records and activation codes live in one database file. Record writes are
// guarded by "WHERE version = ?" and code redemption by a conditional UPDATE,
// so concurrent handlers never overwrite each other.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/aretw0/vellora/pkg/adapters/sqlite/migrations"
	"github.com/aretw0/vellora/pkg/domain"
)

// Store persists conversations and activation codes in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps conditional updates free of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const recordColumns = `conversation_id, code, status, step, plan, name, handle, credential_hash,
	target_kind, target_items, unfollow_inactive, active_hours, completed_at, last_message_id,
	version, created_at, updated_at`

// Get retrieves a record.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM conversations WHERE conversation_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Put creates or conditionally updates a record. Completing a bound record marks
// its code used in the same transaction.
func (s *Store) Put(ctx context.Context, rec *domain.Record) error {
	now := s.now()
	next := rec.Clone()
	next.UpdatedAt = now
	next.Version = rec.Version + 1

	args, err := recordArgs(next)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.Version == 0 {
		next.CreatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(args, next.Version, toMillis(next.CreatedAt), toMillis(next.UpdatedAt))...,
		)
		if err != nil {
			return mapWriteError(err)
		}
	} else {
		var created int64
		err = tx.QueryRowContext(ctx,
			`SELECT created_at FROM conversations WHERE conversation_id = ? AND version = ?`,
			rec.ConversationID, rec.Version,
		).Scan(&created)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("read record version: %w", err)
		}
		next.CreatedAt = fromMillis(created)

		res, err := tx.ExecContext(ctx, `UPDATE conversations SET
			code = ?, status = ?, step = ?, plan = ?, name = ?, handle = ?, credential_hash = ?,
			target_kind = ?, target_items = ?, unfollow_inactive = ?, active_hours = ?, completed_at = ?,
			last_message_id = ?, version = ?, updated_at = ?
			WHERE conversation_id = ? AND version = ?`,
			append(args[1:], next.Version, toMillis(next.UpdatedAt), rec.ConversationID, rec.Version)...,
		)
		if err != nil {
			return mapWriteError(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update record: %w", err)
		} else if n == 0 {
			return domain.ErrConflict
		}
	}

	if next.Code != "" && next.Status == domain.StatusUsed && next.CompletedAt != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE activation_codes SET status = 'used', used_at = ?
			 WHERE code = ? AND conversation_id = ? AND status <> 'used'`,
			toMillis(now), next.Code, next.ConversationID,
		); err != nil {
			return fmt.Errorf("mark code used: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	rec.Version = next.Version
	rec.CreatedAt = next.CreatedAt
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// List returns the stored conversation IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT conversation_id FROM conversations ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertCode stores a new code; the primary key enforces uniqueness.
func (s *Store) InsertCode(ctx context.Context, code *domain.ActivationCode) error {
	created := code.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO activation_codes (code, plan, status, conversation_id, created_at, bound_at, used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.Plan, string(code.Status), nullString(code.ConversationID),
		toMillis(created), nullMillis(code.BoundAt), nullMillis(code.UsedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrCodeExists
	}
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// GetCode looks a code up.
func (s *Store) GetCode(ctx context.Context, code string) (*domain.ActivationCode, error) {
	return getCode(ctx, s.sqlDB, code)
}

// BindCode binds an unbound code with a single conditional UPDATE.
func (s *Store) BindCode(ctx context.Context, code, conversationID string, redeemable []domain.Status) (*domain.ActivationCode, error) {
	if len(redeemable) == 0 {
		return nil, domain.ErrCodeUnavailable
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(redeemable)), ", ")
	args := []any{conversationID, toMillis(s.now()), code}
	for _, st := range redeemable {
		args = append(args, string(st))
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE activation_codes SET conversation_id = ?, bound_at = ?
		 WHERE code = ? AND conversation_id IS NULL AND status IN (`+placeholders+`)`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("bind code: %w", err)
	}

	c, err := getCode(ctx, s.sqlDB, code)
	if errors.Is(err, domain.ErrCodeNotFound) {
		return nil, domain.ErrCodeUnavailable
	}
	if err != nil {
		return nil, err
	}
	if c.ConversationID != conversationID {
		return nil, domain.ErrCodeUnavailable
	}
	return c, nil
}

// TransitionCode moves a code from one status to the next.
func (s *Store) TransitionCode(ctx context.Context, code string, from, to domain.Status) (*domain.ActivationCode, error) {
	if from.Precedes(to) {
		var usedAt any
		if to == domain.StatusUsed {
			usedAt = toMillis(s.now())
		}
		if _, err := s.sqlDB.ExecContext(ctx,
			`UPDATE activation_codes SET status = ?, used_at = COALESCE(?, used_at) WHERE code = ? AND status = ?`,
			string(to), usedAt, code, string(from),
		); err != nil {
			return nil, fmt.Errorf("transition code: %w", err)
		}
	}

	c, err := getCode(ctx, s.sqlDB, code)
	if err != nil {
		return nil, err
	}
	if c.Status != to {
		return nil, domain.ErrInvalidTransition
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCode(ctx context.Context, q queryer, code string) (*domain.ActivationCode, error) {
	var (
		c              domain.ActivationCode
		status         string
		conversationID sql.NullString
		created        int64
		bound, used    sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT code, plan, status, conversation_id, created_at, bound_at, used_at FROM activation_codes WHERE code = ?`,
		code,
	).Scan(&c.Code, &c.Plan, &status, &conversationID, &created, &bound, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	if c.Status, err = domain.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	c.ConversationID = conversationID.String
	c.CreatedAt = fromMillis(created)
	c.BoundAt = millisPtr(bound)
	c.UsedAt = millisPtr(used)
	return &c, nil
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		rec                 domain.Record
		code, kind, items   sql.NullString
		status              string
		step                int
		unfollow, completed sql.NullInt64
		created, updated    int64
	)
	if err := row.Scan(
		&rec.ConversationID, &code, &status, &step, &rec.Plan, &rec.Name, &rec.Handle, &rec.CredentialHash,
		&kind, &items, &unfollow, &rec.ActiveHours, &completed, &rec.LastMessageID,
		&rec.Version, &created, &updated,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	rec.Code = code.String
	rec.Step = domain.Step(step)
	if kind.Valid {
		rec.Targeting = &domain.Targeting{Kind: domain.TargetKind(kind.String)}
		if items.Valid && items.String != "" {
			if err := json.Unmarshal([]byte(items.String), &rec.Targeting.Items); err != nil {
				return nil, fmt.Errorf("decode target items: %w", err)
			}
		}
	}
	if unfollow.Valid {
		v := unfollow.Int64 == 1
		rec.UnfollowInactive = &v
	}
	rec.CompletedAt = millisPtr(completed)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

// recordArgs returns the column values of rec in recordColumns order, without the
// trailing version and timestamps.
func recordArgs(rec *domain.Record) ([]any, error) {
	var kind, items any
	if rec.Targeting != nil {
		kind = string(rec.Targeting.Kind)
		if rec.Targeting.Items != nil {
			raw, err := json.Marshal(rec.Targeting.Items)
			if err != nil {
				return nil, fmt.Errorf("encode target items: %w", err)
			}
			items = string(raw)
		}
	}
	var unfollow any
	if rec.UnfollowInactive != nil {
		if *rec.UnfollowInactive {
			unfollow = 1
		} else {
			unfollow = 0
		}
	}
	return []any{
		rec.ConversationID, nullString(rec.Code), string(rec.Status), int(rec.Step), rec.Plan,
		rec.Name, rec.Handle, rec.CredentialHash, kind, items, unfollow, rec.ActiveHours,
		nullMillis(rec.CompletedAt), rec.LastMessageID,
	}, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullMillis(v *time.Time) any {
	if v == nil {
		return nil
	}
	return toMillis(*v)
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// mapWriteError translates constraint violations on the conversations table.
func mapWriteError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return domain.ErrConflict
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return domain.ErrCodeExists
		case sqlite3lib.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
		}
	}
	return fmt.Errorf("write record: %w", err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store is the sqlite-backed implementation of AccountRepo, EventStore and
// SubscriptionRepo. It also carries the registration-side writes (create,
// delete, subscribe) so the external CRUD surface has something to call.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- accounts ----

const accountCols = `id, platform, native_id, handle, display_name, avatar_url, followers,
	is_live, last_title, last_stream_url, last_thumbnail, live_since, last_checked_at, created_at`

func (s *Store) CreateAccount(ctx context.Context, acc *Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(platform, native_id, handle, display_name, avatar_url, followers,
		   is_live, last_title, last_stream_url, last_thumbnail, live_since, last_checked_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		acc.Platform.String(), acc.NativeID, acc.Handle, acc.DisplayName, nullStr(acc.AvatarURL),
		acc.Followers, acc.IsLive, nullStr(acc.LastTitle), nullStr(acc.LastStreamURL),
		nullStr(acc.LastThumbnail), nullTime(acc.LiveSince), nullTimeVal(acc.LastCheckedAt),
		acc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	acc.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Get(ctx context.Context, p platform.Platform, nativeID string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE platform = ? AND native_id = ?`,
		p.String(), nativeID)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchAccount
	}
	return acc, err
}

func (s *Store) ListAll(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// SaveStatus writes only the presence fields. Identity fields stay untouched
// so a concurrent registration-side edit cannot be clobbered by a poll.
func (s *Store) SaveStatus(ctx context.Context, acc *Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_live = ?, last_title = ?, last_stream_url = ?,
		   last_thumbnail = ?, live_since = ?, last_checked_at = ?
		 WHERE id = ?`,
		acc.IsLive, nullStr(acc.LastTitle), nullStr(acc.LastStreamURL),
		nullStr(acc.LastThumbnail), nullTime(acc.LiveSince), nullTimeVal(acc.LastCheckedAt),
		acc.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchAccount
	}
	return nil
}

// DeleteAccount removes an account; events and subscriptions cascade.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

type scanner interface{ Scan(dest ...any) error }

func scanAccount(r scanner) (*Account, error) {
	var (
		acc                          Account
		plat                         string
		avatar, title, url, thumb    sql.NullString
		liveSince, checked, createdA sql.NullString
	)
	if err := r.Scan(&acc.ID, &plat, &acc.NativeID, &acc.Handle, &acc.DisplayName, &avatar,
		&acc.Followers, &acc.IsLive, &title, &url, &thumb, &liveSince, &checked, &createdA); err != nil {
		return nil, err
	}
	p, err := platform.Parse(plat)
	if err != nil {
		return nil, err
	}
	acc.Platform = p
	acc.AvatarURL = avatar.String
	acc.LastTitle = title.String
	acc.LastStreamURL = url.String
	acc.LastThumbnail = thumb.String
	if t, ok := parseTime(liveSince); ok {
		acc.LiveSince = &t
	}
	if t, ok := parseTime(checked); ok {
		acc.LastCheckedAt = t
	}
	if t, ok := parseTime(createdA); ok {
		acc.CreatedAt = t
	}
	return &acc, nil
}

// ---- presence events ----

func (s *Store) Append(ctx context.Context, ev *PresenceEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	var viewers any
	if ev.ViewerCount >= 0 {
		viewers = ev.ViewerCount
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_events(account_id, kind, title, url, thumbnail_url, viewer_count, at)
		 VALUES(?,?,?,?,?,?,?)`,
		ev.AccountID, string(ev.Kind), nullStr(ev.Title), nullStr(ev.URL),
		nullStr(ev.ThumbnailURL), viewers, ev.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// ListEvents returns the most recent events for an account, newest first.
// Used by tests and the (external) dashboard layer, not by the monitor.
func (s *Store) ListEvents(ctx context.Context, accountID int64, limit int) ([]*PresenceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, kind, title, url, thumbnail_url, viewer_count, at
		 FROM presence_events WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PresenceEvent
	for rows.Next() {
		var (
			ev                PresenceEvent
			kind              string
			title, url, thumb sql.NullString
			viewers           sql.NullInt64
			at                sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &kind, &title, &url, &thumb, &viewers, &at); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		ev.Title = title.String
		ev.URL = url.String
		ev.ThumbnailURL = thumb.String
		ev.ViewerCount = -1
		if viewers.Valid {
			ev.ViewerCount = viewers.Int64
		}
		if t, ok := parseTime(at); ok {
			ev.At = t
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// ---- subscriptions ----

func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(account_id, guild_id, channel_id, template, mention, active, created_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sub.AccountID, sub.GuildID, sub.ChannelID, nullStr(sub.Template), nullStr(sub.Mention),
		sub.Active, nullStr(sub.CreatedBy), sub.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	sub.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListActiveForAccount(ctx context.Context, accountID int64) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, guild_id, channel_id, template, mention, active, created_by, created_at
		 FROM subscriptions WHERE account_id = ? AND active = 1 ORDER BY id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var (
			sub                        Subscription
			template, mention, creator sql.NullString
			created                    sql.NullString
		)
		if err := rows.Scan(&sub.ID, &sub.AccountID, &sub.GuildID, &sub.ChannelID,
			&template, &mention, &sub.Active, &creator, &created); err != nil {
			return nil, err
		}
		sub.Template = template.String
		sub.Mention = mention.String
		sub.CreatedBy = creator.String
		if t, ok := parseTime(created); ok {
			sub.CreatedAt = t
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

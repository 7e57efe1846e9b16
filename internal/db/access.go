package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a named entry does not exist.
var ErrNotFound = errors.New("entry not found")

// Ban is one ban list entry.
type Ban struct {
	Name      string     `json:"name"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the ban has lapsed at now.
func (b Ban) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// AllowEntry is one allow list entry.
type AllowEntry struct {
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// AccessDatabase stores the ban list and the allow list. Names are matched
// case-insensitively.
type AccessDatabase struct {
	db  *Database
	now func() time.Time
}

// NewAccessDatabase opens the database at dbPath and migrates its schema.
func NewAccessDatabase(dbPath string) (*AccessDatabase, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	adb := &AccessDatabase{db: database, now: time.Now}
	if err := adb.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate access database: %w", err)
	}
	return adb, nil
}

func (adb *AccessDatabase) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS bans (
			name_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS allowlist (
			name_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			added_at INTEGER NOT NULL
		);
	`
	_, err := adb.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (adb *AccessDatabase) Close() error {
	return adb.db.Close()
}

// Ping checks the underlying database.
func (adb *AccessDatabase) Ping(ctx context.Context) error {
	return adb.db.Ping(ctx)
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// Ban adds or replaces a ban. A nil expires bans permanently.
func (adb *AccessDatabase) Ban(ctx context.Context, name, reason, source string, expires *time.Time) error {
	var exp interface{}
	if expires != nil {
		exp = expires.Unix()
	}
	_, err := adb.db.Exec(ctx,
		`INSERT INTO bans (name_key, name, reason, source, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name_key) DO UPDATE SET
			name = excluded.name, reason = excluded.reason, source = excluded.source,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		nameKey(name), name, reason, source, adb.now().Unix(), exp)
	if err != nil {
		return fmt.Errorf("failed to ban %s: %w", name, err)
	}
	log.Info().Str("player", name).Str("source", source).Str("reason", reason).Msg("player banned")
	return nil
}

// Pardon removes a ban.
func (adb *AccessDatabase) Pardon(ctx context.Context, name string) error {
	res, err := adb.db.Exec(ctx, `DELETE FROM bans WHERE name_key = ?`, nameKey(name))
	if err != nil {
		return fmt.Errorf("failed to pardon %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	log.Info().Str("player", name).Msg("player pardoned")
	return nil
}

func scanBan(scan func(dest ...interface{}) error) (Ban, error) {
	var (
		b       Ban
		created int64
		expires sql.NullInt64
	)
	if err := scan(&b.Name, &b.Reason, &b.Source, &created, &expires); err != nil {
		return Ban{}, err
	}
	b.CreatedAt = time.Unix(created, 0)
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		b.ExpiresAt = &t
	}
	return b, nil
}

// IsBanned returns the active ban for name. Expired bans are removed.
func (adb *AccessDatabase) IsBanned(ctx context.Context, name string) (Ban, bool, error) {
	row := adb.db.QueryRow(ctx,
		`SELECT name, reason, source, created_at, expires_at FROM bans WHERE name_key = ?`, nameKey(name))
	b, err := scanBan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Ban{}, false, nil
	}
	if err != nil {
		return Ban{}, false, fmt.Errorf("failed to query ban for %s: %w", name, err)
	}
	if b.Expired(adb.now()) {
		if _, err := adb.db.Exec(ctx, `DELETE FROM bans WHERE name_key = ?`, nameKey(name)); err != nil {
			log.Warn().Err(err).Str("player", name).Msg("failed to remove expired ban")
		}
		return Ban{}, false, nil
	}
	return b, true, nil
}

// ListBans returns every ban, newest first.
func (adb *AccessDatabase) ListBans(ctx context.Context) ([]Ban, error) {
	rows, err := adb.db.Query(ctx,
		`SELECT name, reason, source, created_at, expires_at FROM bans ORDER BY created_at DESC, name_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		b, err := scanBan(rows.Scan)
		if err != nil {
			return nil, err
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// PurgeExpiredBans deletes every ban that has lapsed and returns how many
// were removed.
func (adb *AccessDatabase) PurgeExpiredBans(ctx context.Context) (int64, error) {
	res, err := adb.db.Exec(ctx,
		`DELETE FROM bans WHERE expires_at IS NOT NULL AND expires_at <= ?`, adb.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired bans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AllowAdd adds name to the allow list.
func (adb *AccessDatabase) AllowAdd(ctx context.Context, name string) error {
	_, err := adb.db.Exec(ctx,
		`INSERT INTO allowlist (name_key, name, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(name_key) DO UPDATE SET name = excluded.name`,
		nameKey(name), name, adb.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to allow %s: %w", name, err)
	}
	return nil
}

// AllowRemove removes name from the allow list.
func (adb *AccessDatabase) AllowRemove(ctx context.Context, name string) error {
	res, err := adb.db.Exec(ctx, `DELETE FROM allowlist WHERE name_key = ?`, nameKey(name))
	if err != nil {
		return fmt.Errorf("failed to remove %s from allow list: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return nil
}

// IsAllowed reports whether name is on the allow list.
func (adb *AccessDatabase) IsAllowed(ctx context.Context, name string) (bool, error) {
	var n int
	err := adb.db.QueryRow(ctx, `SELECT COUNT(*) FROM allowlist WHERE name_key = ?`, nameKey(name)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query allow list for %s: %w", name, err)
	}
	return n > 0, nil
}

// ListAllowed returns the allow list sorted by name.
func (adb *AccessDatabase) ListAllowed(ctx context.Context) ([]AllowEntry, error) {
	rows, err := adb.db.Query(ctx, `SELECT name, added_at FROM allowlist ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list allow list: %w", err)
	}
	defer rows.Close()

	var out []AllowEntry
	for rows.Next() {
		var (
			e     AllowEntry
			added int64
		)
		if err := rows.Scan(&e.Name, &added); err != nil {
			return nil, err
		}
		e.AddedAt = time.Unix(added, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

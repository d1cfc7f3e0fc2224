// Package state manages the SQLite database that holds Google credentials
// and local calendar entries.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/calendarrelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendar_credentials (
    user_id       TEXT PRIMARY KEY,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL DEFAULT '',
    token_expiry  TEXT NOT NULL DEFAULT '',
    calendar_id   TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_entries (
    id                TEXT PRIMARY KEY,
    event_id          TEXT    NOT NULL,
    title             TEXT    NOT NULL DEFAULT '',
    description       TEXT    NOT NULL DEFAULT '',
    location          TEXT    NOT NULL DEFAULT '',
    start_time        TEXT    NOT NULL,
    end_time          TEXT    NOT NULL,
    is_all_day        INTEGER NOT NULL DEFAULT 0,
    google_event_id   TEXT,
    google_meet_link  TEXT,
    synced_at         TEXT,
    google_updated_at TEXT,
    updated_at        TEXT    NOT NULL,
    CHECK (google_event_id IS NULL OR synced_at IS NOT NULL)
);

CREATE INDEX        IF NOT EXISTS idx_entries_event  ON calendar_entries (event_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_google ON calendar_entries (event_id, google_event_id) WHERE google_event_id IS NOT NULL;
`

const entryColumns = `id, event_id, title, description, location, start_time, end_time,
       is_all_day, google_event_id, google_meet_link, synced_at, google_updated_at, updated_at`

// Store is the SQLite-backed repository for credentials and entries.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/calendarrelay/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calendarrelay", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- Credentials -------------------------------------------------------------

// GetCredential returns the credential for userID, or (nil, nil) if the user
// has not connected a calendar.
func (s *Store) GetCredential(ctx context.Context, userID string) (*model.Credential, error) {
	const q = `
		SELECT user_id, access_token, refresh_token, token_expiry, calendar_id
		FROM calendar_credentials WHERE user_id = ?`

	var c model.Credential
	var expiry string
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&c.UserID, &c.AccessToken, &c.RefreshToken, &expiry, &c.CalendarID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential for user %q: %w", userID, err)
	}
	c.TokenExpiry, _ = parseTime(expiry)
	return &c, nil
}

// UpsertCredential inserts or replaces the credential row for c.UserID.
// An empty RefreshToken keeps the stored one: Google only issues a refresh
// token on the first consent.
func (s *Store) UpsertCredential(ctx context.Context, c *model.Credential) error {
	const q = `
		INSERT INTO calendar_credentials
		    (user_id, access_token, refresh_token, token_expiry, calendar_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    access_token  = excluded.access_token,
		    refresh_token = COALESCE(NULLIF(excluded.refresh_token, ''), calendar_credentials.refresh_token),
		    token_expiry  = excluded.token_expiry,
		    calendar_id   = excluded.calendar_id,
		    updated_at    = excluded.updated_at`

	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, q,
		c.UserID,
		c.AccessToken,
		c.RefreshToken,
		formatTime(c.TokenExpiry),
		c.CalendarID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting credential for user %q: %w", c.UserID, err)
	}
	return nil
}

// UpdateToken stores a refreshed access token, but only if the row still
// carries prevExpiry. It reports whether the swap happened; false means
// another refresher got there first.
func (s *Store) UpdateToken(ctx context.Context, userID string, prevExpiry time.Time, accessToken, refreshToken string, expiry time.Time) (bool, error) {
	const q = `
		UPDATE calendar_credentials SET
		    access_token  = ?,
		    refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
		    token_expiry  = ?,
		    updated_at    = ?
		WHERE user_id = ? AND token_expiry = ?`

	res, err := s.db.ExecContext(ctx, q,
		accessToken,
		refreshToken,
		formatTime(expiry),
		formatTime(s.now()),
		userID,
		formatTime(prevExpiry),
	)
	if err != nil {
		return false, fmt.Errorf("updating token for user %q: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating token for user %q: %w", userID, err)
	}
	return n == 1, nil
}

// DeleteCredential removes the credential for userID. Deleting a missing row
// is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	const q = `DELETE FROM calendar_credentials WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("deleting credential for user %q: %w", userID, err)
	}
	return nil
}

// --- Entries -----------------------------------------------------------------

// ListEntriesByEvent returns every entry of eventID ordered by start time.
func (s *Store) ListEntriesByEvent(ctx context.Context, eventID string) ([]*model.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM calendar_entries
		WHERE event_id = ? ORDER BY start_time, id`
	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying entries for event %q: %w", eventID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry returns the entry with the given ID, or (nil, nil) if none exists.
func (s *Store) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM calendar_entries WHERE id = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return e, err
}

// CountEntries returns the number of entries stored for eventID.
func (s *Store) CountEntries(ctx context.Context, eventID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendar_entries WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entries for event %q: %w", eventID, err)
	}
	return n, nil
}

// InsertEntry stores a new entry. A missing ID is generated and a zero
// UpdatedAt is set to the current time; both are written back to e.
func (s *Store) InsertEntry(ctx context.Context, e *model.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now().UTC()
	}

	q := `INSERT INTO calendar_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		e.ID,
		e.EventID,
		e.Title,
		e.Description,
		e.Location,
		formatTime(e.StartTime),
		formatTime(e.EndTime),
		e.IsAllDay,
		nullString(e.GoogleEventID),
		nullString(e.GoogleMeetLink),
		nullTime(e.SyncedAt),
		nullTime(e.GoogleUpdatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting entry %q: %w", e.Title, err)
	}
	return nil
}

// UpdateEntry overwrites every column of the entry identified by e.ID.
// UpdatedAt is written as given; callers editing display fields are expected
// to bump it themselves.
func (s *Store) UpdateEntry(ctx context.Context, e *model.Entry) error {
	const q = `
		UPDATE calendar_entries SET
		    event_id          = ?,
		    title             = ?,
		    description       = ?,
		    location          = ?,
		    start_time        = ?,
		    end_time          = ?,
		    is_all_day        = ?,
		    google_event_id   = ?,
		    google_meet_link  = ?,
		    synced_at         = ?,
		    google_updated_at = ?,
		    updated_at        = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q,
		e.EventID,
		e.Title,
		e.Description,
		e.Location,
		formatTime(e.StartTime),
		formatTime(e.EndTime),
		e.IsAllDay,
		nullString(e.GoogleEventID),
		nullString(e.GoogleMeetLink),
		nullTime(e.SyncedAt),
		nullTime(e.GoogleUpdatedAt),
		formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entry %q: %w", e.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating entry %q: no such entry", e.ID)
	}
	return nil
}

// CreateEntry stores a locally authored entry: sync metadata is cleared and
// UpdatedAt is stamped with the current time.
func (s *Store) CreateEntry(ctx context.Context, e *model.Entry) error {
	e.GoogleEventID = ""
	e.GoogleMeetLink = ""
	e.SyncedAt = time.Time{}
	e.GoogleUpdatedAt = time.Time{}
	e.UpdatedAt = s.now().UTC()
	return s.InsertEntry(ctx, e)
}

// EditEntry writes a local edit of e's display and time fields and stamps
// UpdatedAt, so the next sync pushes it. Sync metadata is kept from the
// stored row.
func (s *Store) EditEntry(ctx context.Context, e *model.Entry) error {
	stored, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("editing entry %q: no such entry", e.ID)
	}

	e.EventID = stored.EventID
	e.GoogleEventID = stored.GoogleEventID
	e.GoogleMeetLink = stored.GoogleMeetLink
	e.SyncedAt = stored.SyncedAt
	e.GoogleUpdatedAt = stored.GoogleUpdatedAt
	e.UpdatedAt = s.now().UTC()
	return s.UpdateEntry(ctx, e)
}

// DeleteEntry removes the entry with the given ID.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	const q = `DELETE FROM calendar_entries WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting entry %q: %w", id, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanEntry can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*model.Entry, error) {
	var e model.Entry
	var start, end, updated string
	var googleID, meetLink, syncedAt, googleUpdated sql.NullString

	err := s.Scan(
		&e.ID,
		&e.EventID,
		&e.Title,
		&e.Description,
		&e.Location,
		&start,
		&end,
		&e.IsAllDay,
		&googleID,
		&meetLink,
		&syncedAt,
		&googleUpdated,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entry row: %w", err)
	}

	e.StartTime, _ = parseTime(start)
	e.EndTime, _ = parseTime(end)
	e.UpdatedAt, _ = parseTime(updated)
	e.GoogleEventID = googleID.String
	e.GoogleMeetLink = meetLink.String
	e.SyncedAt, _ = parseTime(syncedAt.String)
	e.GoogleUpdatedAt, _ = parseTime(googleUpdated.String)

	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullString {
	return nullString(formatTime(t))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

package observerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/skywatch/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS observer (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	latitude         REAL NOT NULL,
	longitude        REAL NOT NULL,
	altitude         REAL NOT NULL,
	observation_date TEXT NOT NULL DEFAULT '',
	captured_at      TEXT NOT NULL DEFAULT '',
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS observer_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	altitude    REAL NOT NULL,
	captured_at TEXT NOT NULL DEFAULT '',
	saved_at    INTEGER NOT NULL
);
`

// SQLiteStore keeps the current observer in a single-row table and appends
// every saved location to observer_history.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open observer database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create observer schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, obs model.Observer) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	now := s.now()
	p := obs.Payload(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin observer save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO observer (id, latitude, longitude, altitude, observation_date, captured_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			observation_date = excluded.observation_date,
			captured_at = excluded.captured_at,
			updated_at = excluded.updated_at
	`, p.Latitude, p.Longitude, p.Altitude, p.Date, p.Timestamp, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save observer: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO observer_history (latitude, longitude, altitude, captured_at, saved_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.Latitude, p.Longitude, p.Altitude, p.Timestamp, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append observer history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (model.Observer, error) {
	var p model.ObserverPayload
	err := s.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, altitude, observation_date, captured_at
		FROM observer WHERE id = 1
	`).Scan(&p.Latitude, &p.Longitude, &p.Altitude, &p.Date, &p.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Observer{}, model.ErrMissingObserver
	}
	if err != nil {
		return model.Observer{}, fmt.Errorf("failed to load observer: %w", err)
	}
	return p.Observer()
}

// History returns previously saved locations, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]model.Observer, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT latitude, longitude, altitude, captured_at
		FROM observer_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observer history: %w", err)
	}
	defer rows.Close()

	var out []model.Observer
	for rows.Next() {
		var p model.ObserverPayload
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Altitude, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan observer history: %w", err)
		}
		obs, err := p.Observer()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM observer`); err != nil {
		return fmt.Errorf("failed to clear observer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

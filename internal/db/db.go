package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the local journal of channel events received from the backend.
type DB struct {
	sql *sql.DB
	now func() time.Time
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("open db %s: %s: %w", path, pragma, err)
		}
	}
	return &DB{sql: conn, now: time.Now}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS channel_events (
			id       INTEGER PRIMARY KEY,
			ts_ms    INTEGER NOT NULL,
			channel  TEXT NOT NULL,
			event    TEXT NOT NULL,
			status   TEXT NOT NULL,
			message  TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("create channel_events: %w", err)
	}

	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_channel_events_ts ON channel_events(ts_ms DESC)`); err != nil {
		return fmt.Errorf("index channel_events: %w", err)
	}
	return nil
}

// InsertChannelEvent appends one received event to the journal.
func (d *DB) InsertChannelEvent(channel, event, status, message string) error {
	_, err := d.sql.Exec(
		`INSERT INTO channel_events (ts_ms, channel, event, status, message) VALUES (?, ?, ?, ?, ?)`,
		d.now().UnixMilli(), channel, event, status, message,
	)
	return err
}

// RecentChannelEvents returns up to limit events, newest first.
func (d *DB) RecentChannelEvents(limit int) ([]ChannelEvent, error) {
	rows, err := d.sql.Query(
		`SELECT id, ts_ms, channel, event, status, message
		 FROM channel_events
		 ORDER BY ts_ms DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ChannelEvent
	for rows.Next() {
		var e ChannelEvent
		var tsMs int64
		if err := rows.Scan(&e.ID, &tsMs, &e.Channel, &e.Event, &e.Status, &e.Message); err != nil {
			return nil, err
		}
		e.Ts = time.UnixMilli(tsMs)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneBefore deletes events older than cutoff and returns how many went.
func (d *DB) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec(`DELETE FROM channel_events WHERE ts_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

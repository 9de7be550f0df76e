// Package store remembers the cameras the bridge has paired with.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mavcam-bridge/internal/bridge"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PairedCamera is one remembered camera.
type PairedCamera struct {
	Identity bridge.Identity
	Model    string
	PairedAt time.Time
	LastSeen time.Time
}

// SQLitePairingStore implements bridge.PairingStore using SQLite.
type SQLitePairingStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLitePairingStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLitePairingStore(dbPath string) (*SQLitePairingStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pairing db: %w", err)
	}
	return &SQLitePairingStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS paired_cameras (
			address   TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			model     TEXT NOT NULL DEFAULT '',
			paired_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)
	`)
	return err
}

func (s *SQLitePairingStore) Close() error {
	return s.db.Close()
}

// LoadPaired returns the camera connected most recently.
func (s *SQLitePairingStore) LoadPaired(ctx context.Context) (bridge.Identity, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT address, name, model, paired_at, last_seen FROM paired_cameras ORDER BY last_seen DESC LIMIT 1")
	pc, err := scanCamera(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bridge.Identity{}, false, nil
	}
	if err != nil {
		return bridge.Identity{}, false, err
	}
	return pc.Identity, true, nil
}

// SavePaired records a connection. The first pairing time is kept.
func (s *SQLitePairingStore) SavePaired(ctx context.Context, id bridge.Identity, model string) error {
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paired_cameras (address, name, model, paired_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET name = excluded.name, model = excluded.model, last_seen = excluded.last_seen`,
		id.Address, id.Name, model, now, now,
	)
	if err != nil {
		return fmt.Errorf("save paired camera: %w", err)
	}
	return nil
}

// List returns every remembered camera, most recent first.
func (s *SQLitePairingStore) List(ctx context.Context) ([]PairedCamera, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT address, name, model, paired_at, last_seen FROM paired_cameras ORDER BY last_seen DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairedCamera
	for rows.Next() {
		pc, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// Forget removes a camera. It reports whether one was removed.
func (s *SQLitePairingStore) Forget(ctx context.Context, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM paired_cameras WHERE address = ?", address)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCamera(row scanner) (PairedCamera, error) {
	var pc PairedCamera
	var pairedAt, lastSeen string
	if err := row.Scan(&pc.Identity.Address, &pc.Identity.Name, &pc.Model, &pairedAt, &lastSeen); err != nil {
		return PairedCamera{}, err
	}
	pc.Identity.HasService = true
	var err error
	if pc.PairedAt, err = time.Parse(timeLayout, pairedAt); err != nil {
		return PairedCamera{}, fmt.Errorf("parse paired_at: %w", err)
	}
	if pc.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
		return PairedCamera{}, fmt.Errorf("parse last_seen: %w", err)
	}
	return pc, nil
}

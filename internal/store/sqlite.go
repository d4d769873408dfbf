package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/petscan/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pets (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	species       TEXT NOT NULL,
	sensitivities TEXT NOT NULL DEFAULT '[]',
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scans (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	pet_id     TEXT NOT NULL,
	image_ref  TEXT NOT NULL DEFAULT '',
	raw_text   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	result     TEXT,
	nutrition  TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scans_pet_id ON scans(pet_id);
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateScan(ctx context.Context, scan *model.Scan) error {
	resultJSON, nutritionJSON, err := marshalOutcome(scan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scan")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (id, user_id, pet_id, image_ref, raw_text, status, result, nutrition, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.UserID, scan.PetID, scan.ImageRef, scan.RawText, string(scan.Status),
		nullString(resultJSON), nullString(nutritionJSON), scan.Error, scan.CreatedAt.UTC(), scan.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert scan %s", scan.ID)
}

func (s *SQLiteStore) UpdateScan(ctx context.Context, scan *model.Scan) error {
	resultJSON, nutritionJSON, err := marshalOutcome(scan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scan")
	}

	args := []any{
		scan.ImageRef, scan.RawText, string(scan.Status), nullString(resultJSON), nullString(nutritionJSON),
		scan.Error, scan.UpdatedAt.UTC(), scan.ID,
	}
	args = append(args, terminalStatuses...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET image_ref = ?, raw_text = ?, status = ?, result = ?, nutrition = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scan %s", scan.ID)
	}
	return checkRowsAffected(res, "scan", scan.ID)
}

func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, pet_id, image_ref, raw_text, status, result, nutrition, error, created_at, updated_at
		 FROM scans WHERE id = ?`,
		id,
	)
	return scanScan(row)
}

func (s *SQLiteStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error) {
	query := `SELECT id, user_id, pet_id, image_ref, raw_text, status, result, nutrition, error, created_at, updated_at
		FROM scans WHERE 1=1`
	var args []any

	if filter.PetID != "" {
		query += ` AND pet_id = ?`
		args = append(args, filter.PetID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scans")
	}
	defer rows.Close()

	scans := []model.Scan{}
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}
	return scans, eris.Wrap(rows.Err(), "sqlite: list scans iterate")
}

func (s *SQLiteStore) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	var p model.Pet
	var species, sensJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, species, sensitivities FROM pets WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &species, &sensJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: pet %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pet %s", id)
	}
	p.Species = model.Species(species)
	if err := json.Unmarshal([]byte(sensJSON), &p.Sensitivities); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sensitivities")
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertPet(ctx context.Context, pet model.Pet) error {
	sensJSON, err := marshalSensitivities(pet.Sensitivities)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sensitivities")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pets (id, name, species, sensitivities, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, species = excluded.species,
		 sensitivities = excluded.sensitivities, updated_at = excluded.updated_at`,
		pet.ID, pet.Name, string(pet.Species), string(sensJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert pet %s", pet.ID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s missing or already terminal", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanScan(row scannable) (*model.Scan, error) {
	var sc model.Scan
	var status string
	var resultJSON, nutritionJSON sql.NullString

	err := row.Scan(&sc.ID, &sc.UserID, &sc.PetID, &sc.ImageRef, &sc.RawText, &status,
		&resultJSON, &nutritionJSON, &sc.Error, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: scan")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan row")
	}
	sc.Status = model.ScanStatus(status)

	if resultJSON.Valid {
		sc.Result = &model.ScanResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), sc.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if nutritionJSON.Valid {
		sc.NutritionalAnalysis = &model.NutritionalAnalysis{}
		if err := json.Unmarshal([]byte(nutritionJSON.String), sc.NutritionalAnalysis); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal nutrition")
		}
	}
	return &sc, nil
}

// marshalOutcome encodes the optional result columns. Absent values encode
// as nil so they are stored as NULL.
func marshalOutcome(scan *model.Scan) (result, nutrition []byte, err error) {
	if scan.Result != nil {
		if result, err = json.Marshal(scan.Result); err != nil {
			return nil, nil, err
		}
	}
	if scan.NutritionalAnalysis != nil {
		if nutrition, err = json.Marshal(scan.NutritionalAnalysis); err != nil {
			return nil, nil, err
		}
	}
	return result, nutrition, nil
}

func marshalSensitivities(s []string) ([]byte, error) {
	if s == nil {
		s = []string{}
	}
	return json.Marshal(s)
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

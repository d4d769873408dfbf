package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/db"
	"github.com/sells-group/petscan/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const scanColumns = `id, user_id, pet_id, image_ref, raw_text, status, result, nutrition, error, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_scan": `INSERT INTO scans (` + scanColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"update_scan": `UPDATE scans SET image_ref = $1, raw_text = $2, status = $3, result = $4, nutrition = $5, error = $6, updated_at = $7
		WHERE id = $8 AND status NOT IN ($9, $10, $11)`,
	"get_scan": `SELECT ` + scanColumns + ` FROM scans WHERE id = $1`,
	"get_pet":  `SELECT id, name, species, sensitivities FROM pets WHERE id = $1`,
	"upsert_pet": `INSERT INTO pets (id, name, species, sensitivities, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, species = EXCLUDED.species,
		sensitivities = EXCLUDED.sensitivities, updated_at = EXCLUDED.updated_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare fails on connections opened before Migrate has created the
	// tables; those connections run the same SQL unprepared.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				break
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pets (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	species       TEXT NOT NULL,
	sensitivities JSONB NOT NULL DEFAULT '[]',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scans (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id    TEXT NOT NULL DEFAULT '',
	pet_id     TEXT NOT NULL,
	image_ref  TEXT NOT NULL DEFAULT '',
	raw_text   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	result     JSONB,
	nutrition  JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scans_pet_id ON scans(pet_id);
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
CREATE INDEX IF NOT EXISTS idx_scans_pet_created ON scans(pet_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateScan(ctx context.Context, scan *model.Scan) error {
	resultJSON, nutritionJSON, err := marshalOutcome(scan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scan")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["insert_scan"],
		scan.ID, scan.UserID, scan.PetID, scan.ImageRef, scan.RawText, string(scan.Status),
		resultJSON, nutritionJSON, scan.Error, scan.CreatedAt.UTC(), scan.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert scan %s", scan.ID)
}

func (s *PostgresStore) UpdateScan(ctx context.Context, scan *model.Scan) error {
	resultJSON, nutritionJSON, err := marshalOutcome(scan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scan")
	}

	args := []any{
		scan.ImageRef, scan.RawText, string(scan.Status), resultJSON, nutritionJSON,
		scan.Error, scan.UpdatedAt.UTC(), scan.ID,
	}
	args = append(args, terminalStatuses...)
	tag, err := s.pool.Exec(ctx, preparedStatements["update_scan"], args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scan %s", scan.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scan %s missing or already terminal", scan.ID)
	}
	return nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	sc, err := scanPostgresScan(s.pool.QueryRow(ctx, preparedStatements["get_scan"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: scan %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get scan %s", id)
	}
	return sc, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scans WHERE true`
	args := []any{}
	argIdx := 1

	if filter.PetID != "" {
		query += fmt.Sprintf(` AND pet_id = $%d`, argIdx)
		args = append(args, filter.PetID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scans")
	}
	defer rows.Close()

	scans := []model.Scan{}
	for rows.Next() {
		sc, err := scanPostgresScan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		scans = append(scans, *sc)
	}
	return scans, eris.Wrap(rows.Err(), "postgres: list scans iterate")
}

func (s *PostgresStore) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	var p model.Pet
	var species string
	var sensJSON []byte
	err := s.pool.QueryRow(ctx, preparedStatements["get_pet"], id).Scan(&p.ID, &p.Name, &species, &sensJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: pet %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pet %s", id)
	}
	p.Species = model.Species(species)
	if err := json.Unmarshal(sensJSON, &p.Sensitivities); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sensitivities")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertPet(ctx context.Context, pet model.Pet) error {
	sensJSON, err := marshalSensitivities(pet.Sensitivities)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sensitivities")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["upsert_pet"],
		pet.ID, pet.Name, string(pet.Species), sensJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert pet %s", pet.ID)
}

func scanPostgresScan(row pgx.Row) (*model.Scan, error) {
	var sc model.Scan
	var status string
	var resultJSON, nutritionJSON []byte

	if err := row.Scan(&sc.ID, &sc.UserID, &sc.PetID, &sc.ImageRef, &sc.RawText, &status,
		&resultJSON, &nutritionJSON, &sc.Error, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.Status = model.ScanStatus(status)

	if resultJSON != nil {
		sc.Result = &model.ScanResult{}
		if err := json.Unmarshal(resultJSON, sc.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if nutritionJSON != nil {
		sc.NutritionalAnalysis = &model.NutritionalAnalysis{}
		if err := json.Unmarshal(nutritionJSON, sc.NutritionalAnalysis); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal nutrition")
		}
	}
	return &sc, nil
}

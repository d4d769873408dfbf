// Package store persists scans and the pet profiles the analysis reads.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/internal/model"
)

// ErrNotFound is returned when a scan or pet does not exist.
var ErrNotFound = eris.New("store: not found")

// ScanFilter specifies criteria for listing scans.
type ScanFilter struct {
	PetID  string           `json:"pet_id,omitempty"`
	Status model.ScanStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for scans and pets.
type Store interface {
	// Scans
	CreateScan(ctx context.Context, scan *model.Scan) error
	// UpdateScan writes the mutable fields of scan. Rows already in a
	// terminal status are never overwritten.
	UpdateScan(ctx context.Context, scan *model.Scan) error
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error)

	// Pets
	GetPet(ctx context.Context, id string) (*model.Pet, error)
	UpsertPet(ctx context.Context, pet model.Pet) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store selected by cfg.Driver and runs its migration.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func listLimit(filter ScanFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}

// terminalStatuses are listed in UpdateScan guards.
var terminalStatuses = []any{
	string(model.ScanStatusCompleted),
	string(model.ScanStatusFailed),
	string(model.ScanStatusCancelled),
}

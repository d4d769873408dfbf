//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/store"
)

// withConfig installs a config pointing at a SQLite database under dir and
// restores the previous config when the test ends.
func withConfig(t *testing.T, dir string) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "petscan.db")},
		Images: config.ImagesConfig{Driver: "none"},
		Events: config.EventsConfig{Buffer: 4},
	}
	t.Cleanup(func() { cfg = prev })
}

// seedStore opens the configured store and writes scans and pets into it.
func seedStore(t *testing.T, pets []model.Pet, scans []model.Scan) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	for _, p := range pets {
		require.NoError(t, st.UpsertPet(ctx, p))
	}
	for i := range scans {
		require.NoError(t, st.CreateScan(ctx, &scans[i]))
	}
	return st
}

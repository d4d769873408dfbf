package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/model"
)

func newMockSQLiteStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return &SQLiteStore{db: db}, mock
}

func TestSQLiteMock_CreateScanError(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`INSERT INTO scans`).WillReturnError(errors.New("disk full"))

	err := st.CreateScan(context.Background(), newScan("scan-1", "pet-1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: insert scan scan-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMock_UpdateScanGuardsTerminal(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`UPDATE scans SET .* WHERE id = \? AND status NOT IN \(\?, \?, \?\)`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "analyzing", nil, nil, "", sqlmock.AnyArg(), "scan-1",
			"completed", "failed", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sc := newScan("scan-1", "pet-1", time.Now())
	sc.Status = model.ScanStatusAnalyzing
	require.NoError(t, st.UpdateScan(context.Background(), sc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMock_UpdateScanRowsAffectedError(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`UPDATE scans`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver gone")))

	err := st.UpdateScan(context.Background(), newScan("scan-1", "pet-1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")
}

func TestSQLiteMock_GetScanCorruptResult(t *testing.T) {
	st, mock := newMockSQLiteStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "pet_id", "image_ref", "raw_text", "status", "result", "nutrition", "error", "created_at", "updated_at"}).
		AddRow("scan-1", "", "pet-1", "", "", "completed", "{not json", nil, "", now, now)
	mock.ExpectQuery(`SELECT .* FROM scans WHERE id = \?`).WithArgs("scan-1").WillReturnRows(rows)

	_, err := st.GetScan(context.Background(), "scan-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: unmarshal result")
}

func TestSQLiteMock_ListScansQueryError(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT .* FROM scans WHERE 1=1 AND pet_id = \? AND status = \? ORDER BY created_at DESC, id LIMIT \?`).
		WithArgs("pet-1", "completed", 100).
		WillReturnError(errors.New("locked"))

	_, err := st.ListScans(context.Background(), ScanFilter{PetID: "pet-1", Status: model.ScanStatusCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: list scans")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMock_GetPetError(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectQuery(`SELECT id, name, species, sensitivities FROM pets`).WillReturnError(errors.New("io"))

	_, err := st.GetPet(context.Background(), "pet-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "sqlite: get pet pet-1")
}

func TestSQLiteMock_UpsertPetError(t *testing.T) {
	st, mock := newMockSQLiteStore(t)

	mock.ExpectExec(`INSERT INTO pets .* ON CONFLICT\(id\) DO UPDATE`).
		WithArgs("pet-1", "Tom", "cat", `["fish"]`, sqlmock.AnyArg()).
		WillReturnError(errors.New("readonly"))

	err := st.UpsertPet(context.Background(), model.Pet{ID: "pet-1", Name: "Tom", Species: model.SpeciesCat, Sensitivities: []string{"fish"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: upsert pet pet-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

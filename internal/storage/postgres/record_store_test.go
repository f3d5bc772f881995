package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

func TestRecordStoreSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	s, err := NewRecordStore(mock, "questions", runID)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := harvest.Record{ID: "101", ExtractedAt: now, OptionCount: 5, Fields: map[string]any{"materia": "Direito"}}

	mock.ExpectExec("INSERT INTO questions").
		WithArgs("101", runID, "alice", now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), "alice", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreSaveRejectsMissingID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRecordStore(mock, "", uuid.New())
	require.NoError(t, err)
	require.Error(t, s.Save(context.Background(), "alice", harvest.Record{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreFetchIDs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRecordStore(mock, "records", uuid.New())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM records").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("101").AddRow("102"))

	ids, err := s.FetchIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []harvest.RecordID{"101", "102"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreFetchIDsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRecordStore(mock, "records", uuid.New())
	require.NoError(t, err)
	mock.ExpectQuery("SELECT id FROM records").WillReturnError(errors.New("relation does not exist"))

	_, err = s.FetchIDs(context.Background())
	require.ErrorContains(t, err, "relation does not exist")
}

func TestRecordStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewRecordStore(mock, "records", uuid.New())
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore(nil, "records", uuid.New())
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStore(mock, "records; DROP TABLE x", uuid.New())
	require.ErrorContains(t, err, "invalid table name")
}

package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/model"
)

var recordCols = []string{
	"id", "source", "external_id", "name",
	"street", "city", "state", "postal_code", "address",
	"phone", "website", "description", "facebook", "instagram",
	"location", "categories", "hours", "rating", "review_count",
	"verified", "payload", "created_at",
}

func strPtr(s string) *string { return &s }

func TestPostgresStore_InsertRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)

	recs := []model.RawBusinessRecord{
		{Source: model.SourceGooglePlaces, ExternalID: "p1", Name: "Plomería Rivera"},
		{Source: model.SourceGooglePlaces, ExternalID: "p2", Name: "Uñas Bella"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "raw_business_records" .* ON CONFLICT \("source", "external_id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT r.id\s+FROM unnest`).
		WithArgs([]string{"google_places", "google_places"}, []string{"p1", "p2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)).AddRow(int64(12)))
	mock.ExpectCommit()

	ids, err := store.InsertRecords(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 12}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecords_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids, err := NewPostgresStore(mock).InsertRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRecords_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "raw_business_records"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = NewPostgresStore(mock).InsertRecords(context.Background(), []model.RawBusinessRecord{
		{Source: model.SourceFixture, ExternalID: "x", Name: "X"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery: insert records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	loc, err := EncodeLocation(&model.GeoPoint{Lat: 18.01, Lng: -66.61})
	require.NoError(t, err)
	rating := 4.5
	reviews := 12
	now := time.Now()

	mock.ExpectQuery(`SELECT id, source, external_id, name`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			int64(7), "google_places", "p1", "Plomería Rivera",
			"", "Ponce", "PR", "00716", "Carr. 1 Km 5, Ponce, PR",
			"787-555-0100", strPtr("https://riveraplumbing.com"), "", "", "",
			loc, []string{"plumber"}, []string(nil), &rating, &reviews,
			true, []byte(`{"id":"p1"}`), now,
		))

	rec, err := NewPostgresStore(mock).GetRecord(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "Ponce", rec.City)
	assert.True(t, rec.HasWebsite())
	require.NotNil(t, rec.Location)
	assert.InDelta(t, -66.61, rec.Location.Lng, 1e-9)
	assert.Equal(t, []string{"plumber"}, rec.Categories)
	assert.JSONEq(t, `{"id":"p1"}`, string(rec.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, source`).
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(recordCols))

	_, err = NewPostgresStore(mock).GetRecord(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestPostgresStore_ListUnscored(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`WHERE NOT EXISTS \(SELECT 1 FROM icp_signal_results`).
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			int64(3), "fixture", "f1", "Uñas Bella",
			"", "", "", "", "",
			"", (*string)(nil), "", "", "unasbella",
			[]byte(nil), []string{}, []string(nil), (*float64)(nil), (*int)(nil),
			false, []byte(nil), time.Now(),
		))

	recs, err := NewPostgresStore(mock).ListUnscored(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].HasWebsite())
	assert.True(t, recs[0].HasSocial())
	assert.Nil(t, recs[0].Location)
	assert.Nil(t, recs[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeodata/leadflow/internal/model"
)

func TestLocationRoundTrip(t *testing.T) {
	data, err := EncodeLocation(&model.GeoPoint{Lat: 18.4655, Lng: -66.1057})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	p, err := DecodeLocation(data)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 18.4655, p.Lat, 1e-9)
	assert.InDelta(t, -66.1057, p.Lng, 1e-9)
}

func TestLocationNil(t *testing.T) {
	data, err := EncodeLocation(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	p, err := DecodeLocation(nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDecodeLocation_Garbage(t *testing.T) {
	_, err := DecodeLocation([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestRecordRow_MatchesColumns(t *testing.T) {
	site := "https://riveraplumbing.com"
	row, err := RecordRow(&model.RawBusinessRecord{
		Source:     model.SourceGooglePlaces,
		ExternalID: "p1",
		Name:       "Plomería Rivera",
		Website:    &site,
		Location:   &model.GeoPoint{Lat: 18, Lng: -66},
	})
	require.NoError(t, err)
	require.Len(t, row, len(RecordColumns))
	assert.Equal(t, []string{}, row[14], "categories default to empty array")
	assert.Nil(t, row[19], "empty payload is stored as NULL")
	assert.IsType(t, []byte{}, row[13])
}

func TestInsertConfig(t *testing.T) {
	cfg := InsertConfig()
	assert.Equal(t, Table, cfg.Table)
	assert.Equal(t, []string{"source", "external_id"}, cfg.ConflictKeys)
	assert.Contains(t, cfg.Wrap, "location")
}

package txlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/gdbtx/model"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{TxID: 12345, CommitTimestamp: 1700000000, Status: Precommit, Config: []byte("cfg")}
	buf := EncodeHeader(h)
	got, n, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, h.TxID, got.TxID)
	assert.Equal(t, h.CommitTimestamp, got.CommitTimestamp)
	assert.Equal(t, h.Status, got.Status)
	assert.Equal(t, h.Config, got.Config)
}

func TestTrailerRoundTripSuccess(t *testing.T) {
	tr := Trailer{Header: Header{TxID: 1, CommitTimestamp: 42, Status: Success}}
	buf := EncodeTrailer(tr)
	got, _, err := DecodeTrailer(buf)
	require.NoError(t, err)
	assert.Equal(t, Success, got.Header.Status)
	assert.Nil(t, got.Failure)
}

func TestTrailerRoundTripFailureCarriesDetail(t *testing.T) {
	tr := Trailer{
		Header: Header{TxID: 2, CommitTimestamp: 99, Status: Failure},
		Failure: &FailureDetail{
			StorageSuccess:    true,
			TriggerSuccess:    false,
			FailingIndexNames: []string{"idx_text", "idx_geo"},
		},
	}
	buf := EncodeTrailer(tr)
	got, _, err := DecodeTrailer(buf)
	require.NoError(t, err)
	require.NotNil(t, got.Failure)
	assert.True(t, got.Failure.StorageSuccess)
	assert.False(t, got.Failure.TriggerSuccess)
	assert.Equal(t, []string{"idx_text", "idx_geo"}, got.Failure.FailingIndexNames)
}

func TestTriggerRecordRoundTrip(t *testing.T) {
	r := TriggerRecord{
		CommitTimestamp: 555,
		TxID:             7,
		Added: []TriggerRelation{
			{Vertex0ID: 10, Entry: model.Entry{Column: model.StaticBuffer("c1"), Value: model.StaticBuffer("v1")}},
		},
		Removed: []TriggerRelation{
			{Vertex0ID: 20, Entry: model.Entry{Column: model.StaticBuffer("c2"), Value: model.StaticBuffer("v2")}},
		},
	}
	buf := EncodeTriggerRecord(r)
	got, err := DecodeTriggerRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, r.CommitTimestamp, got.CommitTimestamp)
	assert.Equal(t, r.TxID, got.TxID)
	require.Len(t, got.Added, 1)
	assert.Equal(t, int64(10), got.Added[0].Vertex0ID)
	assert.Equal(t, model.StaticBuffer("v1"), got.Added[0].Entry.Value)
	require.Len(t, got.Removed, 1)
	assert.Equal(t, int64(20), got.Removed[0].Vertex0ID)
}

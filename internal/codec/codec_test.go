package codec_test

import (
	"errors"
	"testing"

	"github.com/chatfs/chatfs/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	r := codec.FileRecord{
		Name: "a",
		Attr: codec.FileAttr{Ino: 2, Size: 3, Kind: codec.KindRegularFile, Perm: 0644},
		Blob: &codec.BlobHandle{ID: 7, Parts: 1, Name: "a", MD5: "deadbeef"},
	}

	text, err := codec.EncodeRecord(r)
	require.NoError(t, err)

	got, err := codec.DecodeRecord(text)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestDecodeRecordMalformed(t *testing.T) {
	_, err := codec.DecodeRecord("not json")
	assert.True(t, errors.Is(err, codec.ErrMalformed))
}

func TestIndexRoundTrip(t *testing.T) {
	idx := codec.Index{
		Version: codec.CurrentVersion,
		Files:   map[uint64]int32{1: 100, 2: 101},
		NextIno: 3,
	}

	text, err := codec.EncodeIndex(idx)
	require.NoError(t, err)
	assert.True(t, codec.IsIndexText(text))

	got, err := codec.DecodeIndex(text)
	require.NoError(t, err)
	assert.Equal(t, idx, got)
}

func TestDecodeIndexMissingPrefix(t *testing.T) {
	_, err := codec.DecodeIndex(`{"version":"v1"}`)
	assert.True(t, errors.Is(err, codec.ErrMalformed))
}

func TestDecodeIndexMalformedBody(t *testing.T) {
	_, err := codec.DecodeIndex(codec.IndexPrefix + "not json")
	assert.True(t, errors.Is(err, codec.ErrMalformed))
}

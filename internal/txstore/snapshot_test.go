package txstore

import (
	"encoding/json"
	"testing"

	"txledger/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	records := []Record{confirmedRecord("0x2", 2, 9), pendingRecord("0x1", 1)}
	for _, codec := range []types.SnapshotCodec{types.CodecJSON, types.CodecCBOR} {
		blob, err := encodeSnapshot(codec, "0xaa", records)
		require.NoError(t, err)

		got, err := decodeSnapshot(blob, "0xaa")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "0x2", got[0].Identifier)
		assert.Equal(t, uint64(9), got[0].ConfirmationData.BlockNumber)
		assert.True(t, records[1].CreatedAt.Equal(got[1].CreatedAt))
	}
}

func TestSnapshot_Rejects(t *testing.T) {
	blob, err := encodeSnapshot(types.CodecJSON, "0xaa", []Record{pendingRecord("0x1", 0)})
	require.NoError(t, err)

	_, err = decodeSnapshot(blob, "0xbb")
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	var env snapshotEnvelope
	require.NoError(t, json.Unmarshal(blob, &env))
	env.Payload[0] ^= 0xff
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = decodeSnapshot(tampered, "0xaa")
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
	assert.Regexp(t, "digest mismatch", err)

	env.Version = 9
	bad, _ := json.Marshal(env)
	_, err = decodeSnapshot(bad, "0xaa")
	assert.Regexp(t, "unsupported version", err)

	_, err = encodeSnapshot("xml", "0xaa", nil)
	assert.Regexp(t, "unsupported snapshot codec", err)
}

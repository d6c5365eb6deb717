package txstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"txledger/internal/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const snapshotVersion = 1

// ErrSnapshotCorrupt indicates a persisted snapshot that fails to decode or verify.
var ErrSnapshotCorrupt = errors.New("record snapshot is corrupt")

// snapshotEnvelope is the persisted blob. The envelope is always JSON; the
// payload uses the codec recorded in it so a codec change still reads old blobs.
type snapshotEnvelope struct {
	Version   int                 `json:"version"`
	Principal string              `json:"principal"`
	Codec     types.SnapshotCodec `json:"codec"`
	Payload   []byte              `json:"payload"`
	Digest    []byte              `json:"digest"`
}

var cborEncMode = mustCBOREncMode()

func mustCBOREncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func digest(payload []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(payload)
	return h.Sum(nil)
}

func encodeSnapshot(codec types.SnapshotCodec, principal string, records []Record) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch codec {
	case types.CodecCBOR:
		payload, err = cborEncMode.Marshal(records)
	case types.CodecJSON, "":
		codec = types.CodecJSON
		payload, err = json.Marshal(records)
	default:
		return nil, fmt.Errorf("unsupported snapshot codec %q", codec)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s snapshot: %w", codec, err)
	}

	return json.Marshal(snapshotEnvelope{
		Version:   snapshotVersion,
		Principal: principal,
		Codec:     codec,
		Payload:   payload,
		Digest:    digest(payload),
	})
}

func decodeSnapshot(blob []byte, principal string) ([]Record, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %w", ErrSnapshotCorrupt, err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, env.Version)
	}
	if env.Principal != principal {
		return nil, fmt.Errorf("%w: snapshot belongs to %s", ErrSnapshotCorrupt, env.Principal)
	}
	if !bytes.Equal(digest(env.Payload), env.Digest) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrSnapshotCorrupt)
	}

	var records []Record
	var err error
	switch env.Codec {
	case types.CodecCBOR:
		err = cbor.Unmarshal(env.Payload, &records)
	case types.CodecJSON:
		err = json.Unmarshal(env.Payload, &records)
	default:
		err = fmt.Errorf("unsupported codec %q", env.Codec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrSnapshotCorrupt, err)
	}
	return records, nil
}

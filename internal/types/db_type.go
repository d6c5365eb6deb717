package types

// DBType defines the type of database used for the persisted record snapshot.
type DBType string

const (
	Postgres DBType = "postgres"
	SQLite   DBType = "sqlite"
	None     DBType = "none"
)

// SnapshotCodec defines how the per-principal record snapshot is serialized.
type SnapshotCodec string

const (
	CodecJSON SnapshotCodec = "json"
	CodecCBOR SnapshotCodec = "cbor"
)

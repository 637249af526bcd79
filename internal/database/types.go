package database

// UnknownLabel is reported when a face cannot be resolved to an identity.
const UnknownLabel = "Unknown"

// IdentityRecord describes the vector stored at the same ordinal of the index.
type IdentityRecord struct {
	UserID      string `json:"user_id"`
	ImagePath   string `json:"image_path"`
	ContentHash string `json:"hash"`
}

// Entry is one stored vector together with its ledger record.
type Entry struct {
	Ordinal   int
	Record    IdentityRecord
	Embedding []float32
}

// Neighbor is a single search hit: the ordinal of a stored vector and its
// inner product with the query.
type Neighbor struct {
	Ordinal int
	Score   float64
}

// MatchResult is the outcome of identifying a face against the store.
type MatchResult struct {
	Similarity int    `json:"similarity"` // integer percentage, 0 when unknown
	Label      string `json:"label"`
	Matched    bool   `json:"matched"`

	// Neighbors holds the raw top-k hits. Only the first one decides the result.
	Neighbors []Neighbor `json:"-"`
}

// Known reports whether the match resolved to an identity. It does not look
// at Label: a user may legitimately be enrolled as "Unknown".
func (m MatchResult) Known() bool {
	return m.Matched
}

// IngestStatus reports what Store.Ingest did with a record.
type IngestStatus int

const (
	// IngestOK means the vector and its record were appended and persisted.
	IngestOK IngestStatus = iota
	// IngestSkipped means the entry is not stored: the content hash was
	// already present, or the write failed and an error is returned alongside.
	IngestSkipped
)

func (s IngestStatus) String() string {
	switch s {
	case IngestOK:
		return "ok"
	case IngestSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StoreStats summarises a store for operators.
type StoreStats struct {
	Count      int    `json:"count"`
	Dimension  int    `json:"dimension"`
	IndexKind  string `json:"index_kind"`
	Identities int    `json:"identities"`
	Suspect    bool   `json:"suspect"`
}

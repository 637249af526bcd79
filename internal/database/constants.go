package database

// Matching policy. These are store-wide constants; callers cannot override them per request.
const (
	// MatchThreshold is the minimum inner product (cosine similarity of unit
	// vectors) for a neighbour to count as the same person.
	MatchThreshold = 0.8

	// MatchNeighbors is the neighbourhood size fetched once the store holds
	// more than this many entries; smaller stores fetch a single neighbour.
	MatchNeighbors = 4

	// similarityEpsilon absorbs float32 rounding so a self-match reports 100.
	similarityEpsilon = 1e-4
)

// DefaultEmbeddingDim is the width of the face embeddings (FaceNet/VGGFace2).
const DefaultEmbeddingDim = 512

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier widens the candidate pool requested from the graph
	// before candidates are reranked by exact inner product.
	HNSWSearchMultiplier = 3
)

// Index kinds accepted by NewVectorIndex.
const (
	IndexKindFlat = "flat"
	IndexKindHNSW = "hnsw"
)

// Recovery policies applied when the persisted index holds more vectors than the metadata.
const (
	RecoveryTruncate = "truncate"
	RecoveryReject   = "reject"
)

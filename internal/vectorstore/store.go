package vectorstore

import "context"

// Payload is the metadata stored next to every vector.
type Payload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Point is one vector with its id and payload.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Store is a vector database holding embedded chunks.
type Store interface {
	// EnsureCollection creates the collection for vectors of the given
	// dimension if it does not exist yet.
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error)
	Ping(ctx context.Context) error
}

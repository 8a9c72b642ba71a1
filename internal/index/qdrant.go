package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

// qdrantLocationScheme prefixes index locations that live in a Qdrant
// collection rather than a blob in durable storage.
const qdrantLocationScheme = "qdrant://"

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection holding this session's vectors.
	// One collection per session keeps positions dense and sessions
	// independently expirable.
	Collection string

	// Dim is the fixed vector dimension of the collection.
	Dim int
}

// Qdrant implements rag.Index backed by a per-session Qdrant collection.
// Point IDs are chunk positions, queries run with exact search enabled, and
// the distance metric is Euclidean — squared on the way out so results are
// interchangeable with the flat index. Durability is server-side, so the
// index location handle is "qdrant://<collection>" rather than a blob key.
type Qdrant struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the collection name for this session.
	collection string

	// dim is the fixed vector dimension.
	dim int

	// size is the number of vectors stored, maintained locally on Add and
	// loaded via a count query on open.
	size int
}

// NewQdrant connects to Qdrant and creates the session collection, failing
// if a collection of the same name already exists (sessions are built once).
func NewQdrant(ctx context.Context, cfg *QdrantConfig) (*Qdrant, error) {
	q, err := connectQdrant(cfg)
	if err != nil {
		return nil, err
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("index: qdrant collection check: %w", err)
	}
	if exists {
		q.Close()
		return nil, fmt.Errorf("index: qdrant collection %q already exists", q.collection)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("index: qdrant create collection %q: %w", q.collection, err)
	}

	return q, nil
}

// OpenQdrant connects to Qdrant and attaches to an existing session
// collection, loading its current size.
func OpenQdrant(ctx context.Context, cfg *QdrantConfig) (*Qdrant, error) {
	q, err := connectQdrant(cfg)
	if err != nil {
		return nil, err
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("index: qdrant collection check: %w", err)
	}
	if !exists {
		q.Close()
		return nil, fmt.Errorf("index: qdrant collection %q: %w", q.collection, rag.ErrNotFound)
	}

	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          ptr(true),
	})
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("index: qdrant count: %w", err)
	}
	q.size = int(count)

	return q, nil
}

// connectQdrant applies config defaults and dials the gRPC client.
func connectQdrant(cfg *QdrantConfig) (*Qdrant, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("index: qdrant collection name is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("index: qdrant dimension must be positive, got %d", cfg.Dim)
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant client: %w", err)
	}

	return &Qdrant{client: client, collection: cfg.Collection, dim: cfg.Dim}, nil
}

// Dimension returns the fixed vector dimension of this index.
func (q *Qdrant) Dimension() int { return q.dim }

// Size returns the number of vectors stored.
func (q *Qdrant) Size() int { return q.size }

// Location returns the "qdrant://<collection>" handle recorded on the
// session so the query path can reattach to this collection.
func (q *Qdrant) Location() string { return qdrantLocationScheme + q.collection }

// Add upserts vectors with point IDs equal to their ordinal positions,
// preserving the position join key invariant.
func (q *Qdrant) Add(ctx context.Context, vectors [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for i, v := range vectors {
		if len(v) != q.dim {
			return fmt.Errorf("index: vector %d has dimension %d, want %d: %w",
				i, len(v), q.dim, rag.ErrDimensionMismatch)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(q.size + i)),
			Vectors: qdrant.NewVectors(v...),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("index: qdrant upsert: %w", err)
	}
	q.size += len(points)
	return nil
}

// Search runs an exact (non-approximate) nearest-neighbour query and returns
// matches ascending by squared Euclidean distance.
func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]rag.Match, error) {
	if len(query) != q.dim {
		return nil, fmt.Errorf("index: query has dimension %d, want %d: %w",
			len(query), q.dim, rag.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}

	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		Params:         &qdrant.SearchParams{Exact: ptr(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant search: %w", err)
	}

	matches := make([]rag.Match, 0, len(results))
	for _, r := range results {
		// Qdrant scores Euclid collections with the plain distance; square
		// it so callers see the same metric as the flat index.
		matches = append(matches, rag.Match{
			Position: int(r.Id.GetNum()),
			Distance: r.Score * r.Score,
		})
	}
	return matches, nil
}

// Drop deletes the session collection. Used by expiry sweeps.
func (q *Qdrant) Drop(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("index: qdrant drop collection %q: %w", q.collection, err)
	}
	return nil
}

// Ping checks that the Qdrant server is reachable.
func (q *Qdrant) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: qdrant health check: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

// PingQdrant dials the configured Qdrant server and runs one health check,
// releasing the connection afterwards. Used by readiness probes that run
// before any collection exists.
func PingQdrant(ctx context.Context, cfg *QdrantConfig) error {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("index: qdrant client: %w", err)
	}
	defer client.Close()

	if _, err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: qdrant health check: %w", err)
	}
	return nil
}

// IsQdrantLocation reports whether an index location handle refers to a
// Qdrant collection and, if so, returns the collection name.
func IsQdrantLocation(location string) (collection string, ok bool) {
	if !strings.HasPrefix(location, qdrantLocationScheme) {
		return "", false
	}
	return strings.TrimPrefix(location, qdrantLocationScheme), true
}

// ptr returns a pointer to v.
func ptr[T any](v T) *T { return &v }

package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/liteshelf/bookrec/internal/domain"
	"github.com/liteshelf/bookrec/internal/metrics"
)

// Client is the vector database adapter. It returns honest errors;
// normalizing failures into empty results is the repository layer's job.
type Client struct {
	qc      *qdrant.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Config holds vector database connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	TimeoutSec int
	Logger     *zap.Logger
}

// Point is one record to upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// New connects to the vector database.
func New(cfg *Config) (*Client, error) {
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{qc: qc, timeout: timeout, logger: cfg.Logger}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	_ = c.qc.Close()
}

// Query runs a top-K cosine search, optionally constrained by filters.
func (c *Client) Query(
	ctx context.Context, collection string,
	vector []float32, filters *domain.QueryFilters, limit int, threshold float64,
) ([]domain.VectorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(float32(threshold))
	}
	if f := buildFilter(filters); f != nil {
		req.Filter = f
	}

	points, err := c.observe(collection, func() ([]*qdrant.ScoredPoint, error) {
		return c.qc.Query(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return scoredToRecords(points), nil
}

// QueryByIDs scores the given vector against an explicit id set in one call.
// Ids absent from the collection are silently omitted from the result.
func (c *Client) QueryByIDs(
	ctx context.Context, collection string, vector []float32, ids []string,
) ([]domain.VectorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewHasID(pointIDs...)},
		},
		Limit:       qdrant.PtrOf(uint64(len(ids))),
		WithPayload: qdrant.NewWithPayload(true),
	}

	points, err := c.observe(collection, func() ([]*qdrant.ScoredPoint, error) {
		return c.qc.Query(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s by ids: %w", collection, err)
	}
	return scoredToRecords(points), nil
}

// Retrieve fetches points with payload by id. Missing ids are omitted.
func (c *Client) Retrieve(
	ctx context.Context, collection string, ids []string,
) ([]domain.VectorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}

	points, err := c.qc.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", collection, err)
	}

	records := make([]domain.VectorRecord, 0, len(points))
	for _, p := range points {
		records = append(records, domain.VectorRecord{
			ID:      pointIDToString(p.Id),
			Payload: payloadToMap(p.Payload),
		})
	}
	return records, nil
}

// Scroll lists points with payload, unscored. Used by title search and
// import verification; the timeout is widened for the larger payload.
func (c *Client) Scroll(
	ctx context.Context, collection string, limit int,
) ([]domain.VectorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*c.timeout)
	defer cancel()

	points, err := c.qc.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", collection, err)
	}

	records := make([]domain.VectorRecord, 0, len(points))
	for _, p := range points {
		records = append(records, domain.VectorRecord{
			ID:      pointIDToString(p.Id),
			Payload: payloadToMap(p.Payload),
		})
	}
	return records, nil
}

// EnsureCollection creates a cosine collection when it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	exists, err := c.qc.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	c.logger.Info("Created collection", zap.String("collection", name), zap.Int("dim", dim))
	return nil
}

// ClearCollection removes every point from a collection.
func (c *Client) ClearCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*c.timeout)
	defer cancel()

	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("clear collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes a batch of points.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, cancel := context.WithTimeout(ctx, 6*c.timeout)
	defer cancel()

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// Count returns the exact number of points in a collection.
func (c *Client) Count(ctx context.Context, collection string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.qc.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// HealthCheck verifies database availability.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.qc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (c *Client) observe(
	collection string, fn func() ([]*qdrant.ScoredPoint, error),
) ([]*qdrant.ScoredPoint, error) {
	start := time.Now()
	points, err := fn()
	if err != nil {
		metrics.VectorSearchTotal.WithLabelValues(collection, "error").Inc()
		return nil, err
	}
	metrics.VectorSearchTotal.WithLabelValues(collection, "success").Inc()
	metrics.VectorSearchDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	return points, nil
}

// buildFilter translates query filters into a vector-store filter:
// language is an exact match ANDed with an any-of match over tags.
func buildFilter(f *domain.QueryFilters) *qdrant.Filter {
	if f == nil || f.Empty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.Language != "" {
		must = append(must, qdrant.NewMatch("language", f.Language))
	}
	if len(f.Tags) > 0 {
		must = append(must, qdrant.NewMatchKeywords("tags", f.Tags...))
	}
	return &qdrant.Filter{Must: must}
}

func scoredToRecords(points []*qdrant.ScoredPoint) []domain.VectorRecord {
	records := make([]domain.VectorRecord, 0, len(points))
	for _, p := range points {
		records = append(records, domain.VectorRecord{
			ID:      pointIDToString(p.Id),
			Score:   float64(p.Score),
			Payload: payloadToMap(p.Payload),
		})
	}
	return records
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, valueToAny(item))
		}
		return items
	case *qdrant.Value_StructValue:
		fields := make(map[string]any, len(kind.StructValue.GetFields()))
		for name, field := range kind.StructValue.GetFields() {
			fields[name] = valueToAny(field)
		}
		return fields
	default:
		return nil
	}
}

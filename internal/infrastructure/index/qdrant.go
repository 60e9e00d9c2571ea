package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"AIFlash/internal/ports"
)

const scrollPage = 256

// QdrantConfig configures the remote index.
type QdrantConfig struct {
	Host        string
	Port        int
	APIKey      string
	UseTLS      bool
	Collection  string
	Dimension   int
	CallTimeout time.Duration
}

// QdrantIndex is a search index backed by a Qdrant server over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	timeout    time.Duration
	logger     *slog.Logger
}

var _ ports.SearchIndex = (*QdrantIndex)(nil)

// NewQdrantIndex dials the Qdrant gRPC endpoint.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	if cfg.Collection == "" {
		return nil, errors.New("qdrant index: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("qdrant index: vector dimension must be positive")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		timeout:    cfg.CallTimeout,
		logger:     logger,
	}, nil
}

// pointID maps a key onto the UUID Qdrant requires; the key itself travels in the payload.
func pointID(key string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String())
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.NotFound
}

// EnsureSchema creates the collection when missing and checks vector size and payload fields.
func (q *QdrantIndex) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		if isNotFound(err) {
			return q.create(ctx)
		}
		return fmt.Errorf("qdrant collection info %s: %w", q.collection, err)
	}

	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if int(size) != q.dimension {
		return fmt.Errorf("qdrant collection %s has %d dims, want %d: %w", q.collection, size, q.dimension, ports.ErrSchemaOutdated)
	}

	points, _, err := q.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant sample point: %w", err)
	}
	if len(points) == 0 {
		return nil
	}

	payload := points[0].GetPayload()
	if missing := missingFields(func(f string) bool { _, ok := payload[f]; return ok }); len(missing) > 0 {
		return fmt.Errorf("qdrant collection %s lacks fields %s: %w", q.collection, strings.Join(missing, ","), ports.ErrSchemaOutdated)
	}
	if v := payload[fieldVersion].GetStringValue(); v != fmt.Sprint(SchemaVersion) {
		return fmt.Errorf("qdrant collection %s has schema v%s, want v%d: %w", q.collection, v, SchemaVersion, ports.ErrSchemaOutdated)
	}
	return nil
}

func (q *QdrantIndex) create(ctx context.Context) error {
	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %s: %w", q.collection, err)
	}

	if q.logger != nil {
		q.logger.Info("index created", "collection", q.collection, "dimension", q.dimension, "schema_version", SchemaVersion)
	}
	return nil
}

// Recreate drops and recreates the collection.
func (q *QdrantIndex) Recreate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.client.DeleteCollection(ctx, q.collection); err != nil && !isNotFound(err) {
		return fmt.Errorf("drop qdrant collection %s: %w", q.collection, err)
	}
	return q.create(ctx)
}

// Clear empties the collection.
func (q *QdrantIndex) Clear(ctx context.Context) error {
	return q.Recreate(ctx)
}

// Upsert writes entries, replacing points with the same key.
func (q *QdrantIndex) Upsert(ctx context.Context, entries []ports.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return errors.New("qdrant upsert: entry without key")
		}

		payload := make(map[string]*qdrant.Value, len(schemaFields))
		for k, v := range metadataOf(e) {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		payload[fieldPublishedAt] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: e.PublishedAt.UnixMilli()}}

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(e.Key),
			Vectors: qdrant.NewVectors(prepareVector(e.Vector, q.dimension)...),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search runs a cosine nearest-neighbor query with an optional published_at lower bound.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, since time.Time) ([]ports.IndexHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var filter *qdrant.Filter
	if !since.IsZero() {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   fieldPublishedAt,
						Range: &qdrant.Range{Gte: qdrant.PtrOf(float64(since.UnixMilli()))},
					},
				},
			}},
		}
	}

	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(prepareVector(vector, q.dimension)...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]ports.IndexHit, 0, len(res))
	for _, p := range res {
		payload := p.GetPayload()
		hits = append(hits, ports.IndexHit{
			Key:    payload[fieldKey].GetStringValue(),
			ItemID: payload[fieldItemID].GetStringValue(),
			Score:  p.GetScore(),
		})
	}
	return hits, nil
}

// Delete removes points whose key payload matches, plus keyless points reported by Keys.
func (q *QdrantIndex) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	var (
		named []string
		ids   []*qdrant.PointId
	)
	for _, key := range keys {
		if id, ok := parseOrphanKey(key); ok {
			ids = append(ids, id)
			continue
		}
		named = append(named, key)
	}

	var match []*qdrant.Condition
	if len(named) > 0 {
		match = append(match, qdrant.NewMatchKeywords(fieldKey, named...))
	}
	if len(ids) > 0 {
		match = append(match, qdrant.NewHasID(ids...))
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Should: match}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Keys scrolls through the collection collecting every key payload. Points written without
// a key are listed under their point id so stale cleanup can still remove them.
func (q *QdrantIndex) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	var (
		keys   []string
		offset *qdrant.PointId
	)
	for {
		points, next, err := q.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, p := range points {
			if key := p.GetPayload()[fieldKey].GetStringValue(); key != "" {
				keys = append(keys, key)
				continue
			}
			keys = append(keys, orphanKey(p.GetId()))
		}
		if next == nil || len(points) < scrollPage {
			break
		}
		offset = next
	}

	sort.Strings(keys)
	return keys, nil
}

// orphanPrefix tags keyless points. Item keys never contain a colon.
const orphanPrefix = "point:"

func orphanKey(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return orphanPrefix + u
	}
	return orphanPrefix + strconv.FormatUint(id.GetNum(), 10)
}

func parseOrphanKey(key string) (*qdrant.PointId, bool) {
	raw, ok := strings.CutPrefix(key, orphanPrefix)
	if !ok {
		return nil, false
	}
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return qdrant.NewIDNum(n), true
	}
	if _, err := uuid.Parse(raw); err == nil {
		return qdrant.NewIDUUID(raw), true
	}
	return nil, false
}

// Count returns the exact point count.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

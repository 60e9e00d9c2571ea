package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"AIFlash/internal/ports"
)

const schemaDocID = "schema"

// ChromemIndex is an embedded search index backed by chromem-go.
type ChromemIndex struct {
	db         *chromem.DB
	name       string
	schemaName string
	dimension  int
	logger     *slog.Logger

	mu sync.Mutex
}

var _ ports.SearchIndex = (*ChromemIndex)(nil)

// ChromemConfig configures the embedded index. An empty Path keeps everything in memory.
type ChromemConfig struct {
	Path       string
	Collection string
	Dimension  int
	Compress   bool
}

// NewChromemIndex opens (or creates) the embedded database.
func NewChromemIndex(cfg ChromemConfig, logger *slog.Logger) (*ChromemIndex, error) {
	if cfg.Collection == "" {
		return nil, errors.New("chromem index: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("chromem index: vector dimension must be positive")
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", cfg.Path, err)
		}
	}

	return &ChromemIndex{
		db:         db,
		name:       cfg.Collection,
		schemaName: cfg.Collection + "__schema",
		dimension:  cfg.Dimension,
		logger:     logger,
	}, nil
}

// vectorsOnly is installed on every collection: entries always carry their own vectors.
func vectorsOnly(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("index entries must be upserted with precomputed vectors")
}

// EnsureSchema creates the collection when missing and verifies the recorded schema otherwise.
func (c *ChromemIndex) EnsureSchema(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.db.GetCollection(c.name, vectorsOnly)
	meta := c.db.GetCollection(c.schemaName, vectorsOnly)

	if meta == nil {
		if data != nil && data.Count() > 0 {
			return fmt.Errorf("chromem collection %s has no schema record: %w", c.name, ports.ErrSchemaOutdated)
		}
		return c.createLocked(ctx)
	}

	recorded, err := c.readSchema(ctx, meta)
	if err != nil {
		return err
	}
	if missing := missingFields(func(f string) bool { return recorded.fields[f] }); len(missing) > 0 {
		return fmt.Errorf("chromem collection %s lacks fields %s: %w", c.name, strings.Join(missing, ","), ports.ErrSchemaOutdated)
	}
	if recorded.version != SchemaVersion || recorded.dimension != c.dimension {
		return fmt.Errorf("chromem collection %s has schema v%d/%d dims, want v%d/%d: %w",
			c.name, recorded.version, recorded.dimension, SchemaVersion, c.dimension, ports.ErrSchemaOutdated)
	}

	if data == nil {
		if _, err := c.db.CreateCollection(c.name, nil, vectorsOnly); err != nil {
			return fmt.Errorf("create chromem collection %s: %w", c.name, err)
		}
	}
	return nil
}

type recordedSchema struct {
	version   int
	dimension int
	fields    map[string]bool
}

func (c *ChromemIndex) readSchema(ctx context.Context, meta *chromem.Collection) (recordedSchema, error) {
	if meta.Count() == 0 {
		return recordedSchema{}, fmt.Errorf("chromem schema record for %s is empty: %w", c.name, ports.ErrSchemaOutdated)
	}

	res, err := meta.QueryEmbedding(ctx, []float32{1}, 1, nil, nil)
	if err != nil {
		return recordedSchema{}, fmt.Errorf("read chromem schema: %w", err)
	}
	if len(res) == 0 {
		return recordedSchema{}, fmt.Errorf("chromem schema record for %s is missing: %w", c.name, ports.ErrSchemaOutdated)
	}

	version, _ := strconv.Atoi(res[0].Metadata["version"])
	dimension, _ := strconv.Atoi(res[0].Metadata["dimension"])
	fields := map[string]bool{}
	for _, f := range strings.Split(res[0].Metadata["fields"], ",") {
		if f != "" {
			fields[f] = true
		}
	}
	return recordedSchema{version: version, dimension: dimension, fields: fields}, nil
}

// Recreate drops the collection and its schema record and starts empty.
func (c *ChromemIndex) Recreate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("drop chromem collection %s: %w", c.name, err)
	}
	if err := c.db.DeleteCollection(c.schemaName); err != nil {
		return fmt.Errorf("drop chromem schema %s: %w", c.schemaName, err)
	}
	return c.createLocked(ctx)
}

func (c *ChromemIndex) createLocked(ctx context.Context) error {
	if _, err := c.db.GetOrCreateCollection(c.name, nil, vectorsOnly); err != nil {
		return fmt.Errorf("create chromem collection %s: %w", c.name, err)
	}

	meta, err := c.db.GetOrCreateCollection(c.schemaName, nil, vectorsOnly)
	if err != nil {
		return fmt.Errorf("create chromem schema %s: %w", c.schemaName, err)
	}
	doc := chromem.Document{
		ID:        schemaDocID,
		Content:   "schema",
		Embedding: []float32{1},
		Metadata: map[string]string{
			"version":   strconv.Itoa(SchemaVersion),
			"dimension": strconv.Itoa(c.dimension),
			"fields":    strings.Join(schemaFields, ","),
		},
	}
	if err := meta.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("write chromem schema: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("index created", "collection", c.name, "dimension", c.dimension, "schema_version", SchemaVersion)
	}
	return nil
}

func (c *ChromemIndex) collection() (*chromem.Collection, error) {
	coll, err := c.db.GetOrCreateCollection(c.name, nil, vectorsOnly)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection %s: %w", c.name, err)
	}
	return coll, nil
}

// Upsert replaces entries by key.
func (c *ChromemIndex) Upsert(ctx context.Context, entries []ports.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	coll, err := c.collection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return errors.New("chromem upsert: entry without key")
		}
		docs = append(docs, chromem.Document{
			ID:        e.Key,
			Content:   strings.TrimSpace(e.Title + "\n" + e.TLDR),
			Metadata:  metadataOf(e),
			Embedding: prepareVector(e.Vector, c.dimension),
		})
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add documents: %w", err)
	}
	return nil
}

// Search returns the k nearest entries published at or after since.
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, k int, since time.Time) ([]ports.IndexHit, error) {
	if k <= 0 {
		return nil, nil
	}
	coll, err := c.collection()
	if err != nil {
		return nil, err
	}

	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem filters by equality only, so date windows are applied after ranking.
	n := k
	if !since.IsZero() || n > count {
		n = count
	}

	res, err := coll.QueryEmbedding(ctx, prepareVector(vector, c.dimension), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]ports.IndexHit, 0, k)
	for _, r := range res {
		if !publishedAfter(r.Metadata, since) {
			continue
		}
		hits = append(hits, ports.IndexHit{Key: r.ID, ItemID: r.Metadata[fieldItemID], Score: r.Similarity})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes entries by key.
func (c *ChromemIndex) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	coll, err := c.collection()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := coll.Delete(ctx, nil, nil, key); err != nil {
			return fmt.Errorf("chromem delete %s: %w", key, err)
		}
	}
	return nil
}

// Keys enumerates every stored key.
func (c *ChromemIndex) Keys(ctx context.Context) ([]string, error) {
	coll, err := c.collection()
	if err != nil {
		return nil, err
	}

	count := coll.Count()
	if count == 0 {
		return nil, nil
	}

	res, err := coll.QueryEmbedding(ctx, prepareVector(nil, c.dimension), count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem enumerate keys: %w", err)
	}

	keys := make([]string, 0, len(res))
	for _, r := range res {
		keys = append(keys, r.ID)
	}
	sort.Strings(keys)
	return keys, nil
}

// Count returns the number of entries.
func (c *ChromemIndex) Count(_ context.Context) (int, error) {
	coll := c.db.GetCollection(c.name, vectorsOnly)
	if coll == nil {
		return 0, nil
	}
	return coll.Count(), nil
}

// Clear removes every entry but keeps the schema record.
func (c *ChromemIndex) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("clear chromem collection %s: %w", c.name, err)
	}
	if _, err := c.db.CreateCollection(c.name, nil, vectorsOnly); err != nil {
		return fmt.Errorf("recreate chromem collection %s: %w", c.name, err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}

package ports

import (
	"context"
	"errors"
	"time"

	"AIFlash/internal/domain"
)

// ErrSchemaOutdated is returned by a search index opened with an older field set or vector size.
var ErrSchemaOutdated = errors.New("search index schema is outdated")

// RawSource pulls fresh raw items from upstream feeds and sites.
type RawSource interface {
	Fetch(ctx context.Context, since time.Time) ([]domain.RawItem, error)
}

// ItemStore is the single source of truth for items and their processing flags.
type ItemStore interface {
	InsertRaw(ctx context.Context, item domain.RawItem) (bool, error)
	Get(ctx context.Context, id string) (*domain.Item, error)
	UpdateRelevance(ctx context.Context, id string, update domain.RelevanceUpdate) (bool, error)
	UpdateSummary(ctx context.Context, id string, fields domain.SummaryFields) (bool, error)
	RecordSynthesisFailure(ctx context.Context, id string) (bool, error)
	ListUnchecked(ctx context.Context, limit int) ([]domain.Item, error)
	ListSummarizable(ctx context.Context, limit int) ([]domain.Item, error)
	ListSummarized(ctx context.Context, limit int) ([]domain.Item, error)
	SummarizedIDs(ctx context.Context) ([]string, error)
	ListQuarantined(ctx context.Context, limit int) ([]domain.Item, error)
	Query(ctx context.Context, q domain.ItemQuery) ([]domain.Item, error)
	Stats(ctx context.Context, now time.Time) (domain.StoreStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Clear(ctx context.Context) (int, error)
}

// Prompt is one request to the reasoning service.
type Prompt struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ReasoningClient sends prompts to an LLM and returns its free-form reply.
type ReasoningClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// IndexEntry is the denormalized projection of a summarized item kept in the search index.
type IndexEntry struct {
	Key         string
	ItemID      string
	Title       string
	TLDR        string
	Summary     string
	Source      string
	Type        string
	PublishedAt time.Time
	Tags        []string
	Vector      []float32
}

// IndexHit is one nearest-neighbor result.
type IndexHit struct {
	Key    string
	ItemID string
	Score  float32
}

// SearchIndex is the vector-similarity collaborator kept in sync with the item store.
type SearchIndex interface {
	// EnsureSchema creates the index when missing and returns ErrSchemaOutdated for stale layouts.
	EnsureSchema(ctx context.Context) error
	Recreate(ctx context.Context) error
	Upsert(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, vector []float32, k int, since time.Time) ([]IndexHit, error)
	Delete(ctx context.Context, keys []string) error
	Keys(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Notifier streams operational alerts to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler drives the recurring tick of the job loop.
type Scheduler interface {
	Start(ctx context.Context, tick func(time.Time)) error
	Stop(ctx context.Context) error
}

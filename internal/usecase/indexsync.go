package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"AIFlash/internal/domain"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
)

const upsertChunk = 100

// IndexSyncDeps wires the index synchronizer.
type IndexSyncDeps struct {
	Index    ports.SearchIndex
	Store    ports.ItemStore
	Embedder *SafeEmbedder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// IndexSync keeps the search index equal to the store's summarized set.
type IndexSync struct {
	index    ports.SearchIndex
	store    ports.ItemStore
	embedder *SafeEmbedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// ReindexReport describes a full rebuild.
type ReindexReport struct {
	Recreated  bool
	Indexed    int
	Reembedded int
	Removed    int
}

// NewIndexSync builds the synchronizer. A nil index turns every operation into a no-op.
func NewIndexSync(deps IndexSyncDeps) *IndexSync {
	return &IndexSync{
		index:    deps.Index,
		store:    deps.Store,
		embedder: deps.Embedder,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Enabled reports whether an index backend is configured.
func (s *IndexSync) Enabled() bool {
	return s != nil && s.index != nil
}

// Upsert writes one entry per summarized item, replacing earlier entries under the same key.
func (s *IndexSync) Upsert(ctx context.Context, items []domain.Item) (int, error) {
	if !s.Enabled() || len(items) == 0 {
		return 0, nil
	}

	entries := make([]ports.IndexEntry, 0, len(items))
	for _, item := range items {
		if !item.Summarized {
			continue
		}
		entries = append(entries, EntryFromItem(item))
	}

	written := 0
	for start := 0; start < len(entries); start += upsertChunk {
		end := min(start+upsertChunk, len(entries))
		if err := s.index.Upsert(ctx, entries[start:end]); err != nil {
			s.metrics.IndexSynced(written, 0, -1)
			return written, fmt.Errorf("upsert index entries: %w", err)
		}
		written += end - start
	}
	s.metrics.IndexSynced(written, 0, -1)
	s.debug("index upserted", "entries", written)
	return written, nil
}

// CleanupStale deletes every index entry whose item id is not in validIDs.
func (s *IndexSync) CleanupStale(ctx context.Context, validIDs []string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	valid := make(map[string]struct{}, len(validIDs))
	for _, id := range validIDs {
		valid[domain.IndexKey(id)] = struct{}{}
	}

	keys, err := s.index.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list index keys: %w", err)
	}

	var stale []string
	for _, key := range keys {
		if _, ok := valid[key]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if err := s.index.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete stale entries: %w", err)
		}
		s.info("removed stale index entries", "count", len(stale))
	}

	s.metrics.IndexSynced(0, len(stale), len(keys)-len(stale))
	return len(stale), nil
}

// Reconcile runs CleanupStale against the store's current summarized ids.
func (s *IndexSync) Reconcile(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	if s.store == nil {
		return 0, errors.New("index sync has no store")
	}

	ids, err := s.store.SummarizedIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load summarized ids: %w", err)
	}
	return s.CleanupStale(ctx, ids)
}

// ReindexAll rebuilds the index from the store. An outdated schema is recreated first; items
// whose stored embedding is missing or zero are embedded again. Safe to re-run.
func (s *IndexSync) ReindexAll(ctx context.Context) (ReindexReport, error) {
	var report ReindexReport
	if !s.Enabled() {
		return report, nil
	}
	if s.store == nil {
		return report, errors.New("index sync has no store")
	}

	if err := s.index.EnsureSchema(ctx); err != nil {
		if !errors.Is(err, ports.ErrSchemaOutdated) {
			return report, fmt.Errorf("check index schema: %w", err)
		}
		s.warn("index schema outdated, recreating", "error", err)
		if err := s.index.Recreate(ctx); err != nil {
			return report, fmt.Errorf("recreate index: %w", err)
		}
		report.Recreated = true
	}

	items, err := s.store.ListSummarized(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("list summarized: %w", err)
	}

	ids := make([]string, 0, len(items))
	for i := range items {
		ids = append(ids, items[i].ID)
		if s.embedder != nil && isZeroVector(items[i].Embedding) {
			text := EmbeddingText(itemTitle(items[i]), items[i].TLDR, items[i].Summary, items[i].WhyItMatters)
			items[i].Embedding = s.embedder.Embed(ctx, text)
			report.Reembedded++
		}
	}

	report.Indexed, err = s.Upsert(ctx, items)
	if err != nil {
		return report, err
	}

	report.Removed, err = s.CleanupStale(ctx, ids)
	if err != nil {
		return report, err
	}

	s.info("index rebuilt", "indexed", report.Indexed, "reembedded", report.Reembedded,
		"removed", report.Removed, "recreated", report.Recreated)
	return report, nil
}

// Run is the reindex job entry point.
func (s *IndexSync) Run(ctx context.Context) (domain.JobResult, error) {
	if !s.Enabled() {
		return domain.JobResult{Success: true, Message: "search index disabled"}, nil
	}

	report, err := s.ReindexAll(ctx)
	if err != nil {
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}
	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("reindexed %d items", report.Indexed),
		Counts: map[string]int{
			"indexed":    report.Indexed,
			"reembedded": report.Reembedded,
			"removed":    report.Removed,
		},
	}, nil
}

// Count returns the number of entries, or -1 when the index is disabled.
func (s *IndexSync) Count(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return -1, nil
	}
	return s.index.Count(ctx)
}

// Clear drops every entry.
func (s *IndexSync) Clear(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

// EntryFromItem projects a summarized item onto an index entry.
func EntryFromItem(item domain.Item) ports.IndexEntry {
	ctype := item.ContentType
	if ctype == "" {
		ctype = domain.TypeBlog
	}

	return ports.IndexEntry{
		Key:         domain.IndexKey(item.ID),
		ItemID:      item.ID,
		Title:       itemTitle(item),
		TLDR:        item.TLDR,
		Summary:     item.Summary,
		Source:      item.Source,
		Type:        string(ctype),
		PublishedAt: item.PublishedAt,
		Tags:        item.Tags,
		Vector:      item.Embedding,
	}
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (s *IndexSync) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *IndexSync) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *IndexSync) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

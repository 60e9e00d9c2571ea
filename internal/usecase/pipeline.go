package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AIFlash/internal/domain"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
)

const defaultLookback = 7 * 24 * time.Hour

// PipelineDeps wires the raw sources into the ingestion stage.
type PipelineDeps struct {
	Sources     []ports.RawSource
	Store       ports.ItemStore
	Maintenance *Maintenance
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// ClearBeforeIngest empties the store and the index before fetching.
	ClearBeforeIngest bool
	Lookback          time.Duration
	Now               func() time.Time
}

// Pipeline implements the ingestion stage: fetch from every source and store new items raw.
type Pipeline struct {
	sources     []ports.RawSource
	store       ports.ItemStore
	maintenance *Maintenance
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clearFirst  bool
	lookback    time.Duration
	now         func() time.Time
}

// NewPipeline constructs the ingestion component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		sources:     deps.Sources,
		store:       deps.Store,
		maintenance: deps.Maintenance,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		clearFirst:  deps.ClearBeforeIngest,
		lookback:    deps.Lookback,
		now:         deps.Now,
	}
	if p.lookback <= 0 {
		p.lookback = defaultLookback
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Ingest pulls every source once. Items already stored are counted as duplicates and left
// untouched. A failing source is skipped; the run fails only when every source failed.
func (p *Pipeline) Ingest(ctx context.Context) (domain.JobResult, error) {
	if p.store == nil {
		err := errors.New("ingest pipeline has no store")
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}

	counts := map[string]int{"fetched": 0, "inserted": 0, "duplicate": 0, "failed": 0, "source_errors": 0}

	if p.clearFirst && p.maintenance != nil {
		cleared, err := p.maintenance.ClearAll(ctx)
		if err != nil {
			err = fmt.Errorf("clear before ingest: %w", err)
			return domain.JobResult{Success: false, Message: err.Error()}, err
		}
		counts["cleared"] = cleared.Counts["deleted"]
	}

	since := p.now().Add(-p.lookback)
	var lastErr error
	for i, source := range p.sources {
		items, err := source.Fetch(ctx, since)
		if err != nil {
			counts["source_errors"]++
			lastErr = err
			p.warn("source fetch failed", "source", i, "error", err)
			continue
		}
		counts["fetched"] += len(items)

		for _, item := range items {
			outcome := p.insert(ctx, item)
			counts[outcome]++
			p.metrics.Ingested(outcome)
		}
	}

	if len(p.sources) > 0 && counts["source_errors"] == len(p.sources) {
		err := fmt.Errorf("all %d sources failed: %w", len(p.sources), lastErr)
		return domain.JobResult{Success: false, Message: err.Error(), Counts: counts}, err
	}

	p.info("ingest done", "fetched", counts["fetched"], "inserted", counts["inserted"], "duplicate", counts["duplicate"])
	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("ingested %d new items (%d already known)", counts["inserted"], counts["duplicate"]),
		Counts:  counts,
	}, nil
}

func (p *Pipeline) insert(ctx context.Context, item domain.RawItem) string {
	if strings.TrimSpace(item.Title) == "" || item.Source == "" {
		p.debug("item without title or source dropped", "link", item.Link)
		return "failed"
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = p.now().UTC().Truncate(24 * time.Hour)
	}

	inserted, err := p.store.InsertRaw(ctx, item)
	switch {
	case err != nil:
		p.warn("insert raw item failed", "title", item.Title, "error", err)
		return "failed"
	case inserted:
		return "inserted"
	default:
		return "duplicate"
	}
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

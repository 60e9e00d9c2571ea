package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"AIFlash/internal/domain"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
)

const (
	defaultRetentionDays = 90
	defaultStaleAfter    = 48 * time.Hour
	quarantineSample     = 20
)

// MaintenanceDeps wires retention, health and bulk clear.
type MaintenanceDeps struct {
	Store    ports.ItemStore
	Index    *IndexSync
	Notifier ports.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// RetentionDays is the age after which items are swept.
	RetentionDays int
	// StaleAfter is how long ingestion may go without success before health alerts.
	StaleAfter time.Duration
	// LastIngest reports the last successful ingestion, if any.
	LastIngest func() (time.Time, bool)
	Now        func() time.Time
}

// Maintenance runs the housekeeping jobs around the item store and index.
type Maintenance struct {
	store      ports.ItemStore
	index      *IndexSync
	notifier   ports.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	retention  time.Duration
	staleAfter time.Duration
	lastIngest func() (time.Time, bool)
	now        func() time.Time
}

// Stats is the diagnostic view of the pipeline.
type Stats struct {
	Store       domain.StoreStats `json:"store"`
	IndexSize   int               `json:"index_size"`
	Quarantined []string          `json:"quarantined_sample,omitempty"`
}

// NewMaintenance applies defaults to zero-valued policy fields.
func NewMaintenance(deps MaintenanceDeps) *Maintenance {
	days := deps.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	m := &Maintenance{
		store:      deps.Store,
		index:      deps.Index,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		retention:  time.Duration(days) * 24 * time.Hour,
		staleAfter: deps.StaleAfter,
		lastIngest: deps.LastIngest,
		now:        deps.Now,
	}
	if m.staleAfter <= 0 {
		m.staleAfter = defaultStaleAfter
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetLastIngest installs the ingestion status source once the scheduler exists.
func (m *Maintenance) SetLastIngest(fn func() (time.Time, bool)) {
	m.lastIngest = fn
}

// Cleanup sweeps items older than the retention period, then drops their index entries.
func (m *Maintenance) Cleanup(ctx context.Context) (domain.JobResult, error) {
	if m.store == nil {
		return domain.JobResult{Success: false, Message: "maintenance has no store"}, errors.New("maintenance has no store")
	}

	cutoff := m.now().Add(-m.retention)
	deleted, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		err = fmt.Errorf("retention sweep: %w", err)
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}
	m.metrics.RetentionDeleted(deleted)

	removed, err := m.index.Reconcile(ctx)
	if err != nil {
		m.warn("stale cleanup after retention failed", "error", err)
	}

	m.info("cleanup done", "deleted", deleted, "stale_removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("deleted %d items older than %s", deleted, cutoff.Format("2006-01-02")),
		Counts:  map[string]int{"deleted": deleted, "stale_removed": removed},
	}, nil
}

// Health checks ingestion freshness. The run succeeds even when degraded; the state is in the
// message and an alert goes out through the notifier.
func (m *Maintenance) Health(ctx context.Context) (domain.JobResult, error) {
	if m.store == nil {
		return domain.JobResult{Success: false, Message: "maintenance has no store"}, errors.New("maintenance has no store")
	}

	now := m.now()
	stats, err := m.store.Stats(ctx, now)
	if err != nil {
		err = fmt.Errorf("health stats: %w", err)
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}
	m.metrics.StoreStats(stats.Total, stats.Unchecked, stats.Relevant, stats.Summarized, stats.Quarantined)

	counts := map[string]int{
		"total":       stats.Total,
		"recent_24h":  stats.RecentDay,
		"quarantined": stats.Quarantined,
	}

	message := fmt.Sprintf("healthy: %d items, %d in the last day", stats.Total, stats.RecentDay)
	if stats.RecentDay == 0 && m.lastIngest != nil {
		if last, ok := m.lastIngest(); ok && now.Sub(last) > m.staleAfter {
			days := int(now.Sub(last) / (24 * time.Hour))
			message = fmt.Sprintf("degraded: no recent items, last successful ingestion %d days ago", days)
			counts["days_since_ingest"] = days
			m.warn("no recent items", "days_since_ingest", days)
			m.alert(ctx, "AIFlash health: "+message)
		}
	}

	m.debug("health check", "total", stats.Total, "recent_24h", stats.RecentDay)
	return domain.JobResult{Success: true, Message: message, Counts: counts}, nil
}

// ClearAll empties the store and the index.
func (m *Maintenance) ClearAll(ctx context.Context) (domain.JobResult, error) {
	if m.store == nil {
		return domain.JobResult{Success: false, Message: "maintenance has no store"}, errors.New("maintenance has no store")
	}

	deleted, err := m.store.Clear(ctx)
	if err != nil {
		err = fmt.Errorf("clear store: %w", err)
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}
	if err := m.index.Clear(ctx); err != nil {
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}

	m.info("store and index cleared", "deleted", deleted)
	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("cleared %d items", deleted),
		Counts:  map[string]int{"deleted": deleted},
	}, nil
}

// Stats gathers store counts, index size and a sample of quarantined ids.
func (m *Maintenance) Stats(ctx context.Context) (Stats, error) {
	if m.store == nil {
		return Stats{}, errors.New("maintenance has no store")
	}

	storeStats, err := m.store.Stats(ctx, m.now())
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}

	size, err := m.index.Count(ctx)
	if err != nil {
		m.warn("index count failed", "error", err)
		size = -1
	}

	quarantined, err := m.store.ListQuarantined(ctx, quarantineSample)
	if err != nil {
		return Stats{}, fmt.Errorf("list quarantined: %w", err)
	}
	ids := make([]string, 0, len(quarantined))
	for _, item := range quarantined {
		ids = append(ids, item.ID)
	}

	return Stats{Store: storeStats, IndexSize: size, Quarantined: ids}, nil
}

func (m *Maintenance) alert(ctx context.Context, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.PublishDigest(ctx, message); err != nil {
		m.warn("health alert failed", "error", err)
	}
}

func (m *Maintenance) debug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Maintenance) info(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Maintenance) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

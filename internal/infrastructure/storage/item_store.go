package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"AIFlash/internal/domain"
	"AIFlash/internal/ports"
)

const defaultQuarantineLimit = 3

// ItemStore persists items and their processing flags in a single relational table.
type ItemStore struct {
	db              *sqlx.DB
	dialect         Dialect
	sb              sq.StatementBuilderType
	quarantineLimit int
	locks           *keyLock
	logger          *slog.Logger

	mu      sync.RWMutex
	columns map[string]bool
}

var _ ports.ItemStore = (*ItemStore)(nil)

// ItemStoreDeps configures a store over an already opened database.
type ItemStoreDeps struct {
	DB              *sqlx.DB
	Dialect         Dialect
	QuarantineLimit int
	Logger          *slog.Logger
}

// NewItemStore wires the store. Call Migrate before serving traffic.
func NewItemStore(deps ItemStoreDeps) *ItemStore {
	limit := deps.QuarantineLimit
	if limit <= 0 {
		limit = defaultQuarantineLimit
	}
	dialect := deps.Dialect
	if dialect == "" {
		dialect = DialectSQLite
	}

	columns := make(map[string]bool, len(coreColumns))
	for _, c := range coreColumns {
		columns[c] = true
	}

	return &ItemStore{
		db:              deps.DB,
		dialect:         dialect,
		sb:              dialect.builder(),
		quarantineLimit: limit,
		locks:           newKeyLock(),
		logger:          deps.Logger,
		columns:         columns,
	}
}

// Close releases the database handle.
func (s *ItemStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertRaw stores a new raw item. It returns false when the id already exists.
func (s *ItemStore) InsertRaw(ctx context.Context, raw domain.RawItem) (bool, error) {
	id := raw.ID()
	unlock := s.locks.lock(id)
	defer unlock()

	query, args, err := s.sb.Insert("items").
		Columns("id", "raw_title", "raw_summary", "raw_body", "raw_link", "source",
			"published_at", "ingested_at", "content_type").
		Values(id, raw.Title, raw.Summary, raw.Body, raw.Link, raw.Source,
			toMillis(raw.PublishedAt), time.Now().UnixMilli(),
			string(domain.DetectContentType(raw.Link, raw.Title))).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert item %s: %w", id, err)
	}
	return affected(res)
}

// Get returns the item or nil when it does not exist.
func (s *ItemStore) Get(ctx context.Context, id string) (*domain.Item, error) {
	query, args, err := s.selectItems().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}

	var row itemRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}

	item := row.toDomain()
	return &item, nil
}

// UpdateRelevance records one relevance outcome. A successful check is written at most once;
// a failed one only grows the failure counter and leaves the item in the unchecked queue.
func (s *ItemStore) UpdateRelevance(ctx context.Context, id string, update domain.RelevanceUpdate) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	builder := s.sb.Update("items").Where(sq.Eq{"id": id, "relevance_checked": false})
	if update.Failed {
		builder = builder.Set("failure_count", sq.Expr("failure_count + 1"))
	} else {
		var score any
		if update.Relevant && update.Score != nil {
			score = *update.Score
		}
		builder = builder.
			Set("relevance_checked", true).
			Set("is_relevant", update.Relevant).
			Set("relevance_score", score).
			Set("failure_count", 0)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build relevance update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update relevance %s: %w", id, err)
	}
	return affected(res)
}

// UpdateSummary writes all card fields in one statement. The predicate only matches checked,
// relevant items, so a summarized row is always a relevant one.
func (s *ItemStore) UpdateSummary(ctx context.Context, id string, fields domain.SummaryFields) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	summarizedAt := fields.SummarizedAt
	if summarizedAt.IsZero() {
		summarizedAt = time.Now()
	}

	values := map[string]any{
		"display_title":    fields.DisplayTitle,
		"tl_dr":            fields.TLDR,
		"summary":          fields.Summary,
		"why_it_matters":   fields.WhyItMatters,
		"tags":             encodeJSON(nonNilStrings(fields.Tags)),
		"badges":           encodeJSON(nonNilStrings(fields.Badges)),
		"refs":             encodeJSON(nonNilRefs(fields.References)),
		"snippet":          fields.Snippet,
		"synthesis_failed": false,
		"summarized_at":    summarizedAt.UnixMilli(),
	}
	if len(fields.Embedding) > 0 {
		values["embedding"] = encodeJSON(fields.Embedding)
	}

	builder := s.sb.Update("items").
		Set("summarized", true).
		Set("failure_count", 0).
		Where(sq.Eq{"id": id, "relevance_checked": true, "is_relevant": true})
	if fields.ContentType != "" {
		builder = builder.Set("content_type", string(fields.ContentType))
	}
	for _, col := range optionalColumns {
		v, ok := values[col.name]
		if !ok || !s.hasColumn(col.name) {
			continue
		}
		builder = builder.Set(col.name, v)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build summary update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update summary %s: %w", id, err)
	}
	return affected(res)
}

// RecordSynthesisFailure grows the failure counter of an unsummarized item.
func (s *ItemStore) RecordSynthesisFailure(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	builder := s.sb.Update("items").
		Set("failure_count", sq.Expr("failure_count + 1")).
		Where(sq.Eq{"id": id, "summarized": false})
	if s.hasColumn("synthesis_failed") {
		builder = builder.Set("synthesis_failed", true)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build failure update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("record synthesis failure %s: %w", id, err)
	}
	return affected(res)
}

// ListUnchecked returns items waiting for a relevance check, newest first.
func (s *ItemStore) ListUnchecked(ctx context.Context, limit int) ([]domain.Item, error) {
	builder := s.selectItems().
		Where(sq.Eq{"relevance_checked": false}).
		Where(sq.Lt{"failure_count": s.quarantineLimit}).
		OrderBy("published_at DESC", "id")
	return s.list(ctx, withLimit(builder, limit))
}

// ListSummarizable returns relevant, unsummarized, non-quarantined items by score then recency.
func (s *ItemStore) ListSummarizable(ctx context.Context, limit int) ([]domain.Item, error) {
	builder := s.selectItems().
		Where(relevantPredicate()).
		Where(sq.Eq{"summarized": false}).
		Where(sq.Lt{"failure_count": s.quarantineLimit}).
		OrderBy(rankOrder...)
	return s.list(ctx, withLimit(builder, limit))
}

// ListSummarized returns summarized items, newest first. A limit of zero returns all of them.
func (s *ItemStore) ListSummarized(ctx context.Context, limit int) ([]domain.Item, error) {
	builder := s.selectItems().
		Where(summarizedPredicate()).
		OrderBy("published_at DESC", "id")
	return s.list(ctx, withLimit(builder, limit))
}

// SummarizedIDs returns the ids that are allowed to have an index entry.
func (s *ItemStore) SummarizedIDs(ctx context.Context) ([]string, error) {
	query, args, err := s.sb.Select("id").From("items").Where(summarizedPredicate()).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summarized ids: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("select summarized ids: %w", err)
	}
	return ids, nil
}

// likeEscaper keeps user text from acting as LIKE wildcards.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsExpr(col, pattern string) sq.Sqlizer {
	return sq.Expr("LOWER("+col+") LIKE ? ESCAPE '\\'", pattern)
}

// ListQuarantined returns items that crossed the failure limit, for diagnostics.
func (s *ItemStore) ListQuarantined(ctx context.Context, limit int) ([]domain.Item, error) {
	builder := s.selectItems().
		Where(sq.GtOrEq{"failure_count": s.quarantineLimit}).
		OrderBy("failure_count DESC", "published_at DESC")
	return s.list(ctx, withLimit(builder, limit))
}

// Query serves the retrieval tiers.
func (s *ItemStore) Query(ctx context.Context, q domain.ItemQuery) ([]domain.Item, error) {
	builder := s.selectItems()

	switch q.Stage {
	case domain.FilterSummarized:
		builder = builder.Where(summarizedPredicate())
	case domain.FilterRelevant:
		builder = builder.Where(relevantPredicate())
	case domain.FilterAnyWithContent:
		raw := sq.And{
			sq.Expr("LENGTH(raw_title) >= ?", domain.MinRawTitleLength),
			sq.Or{
				sq.Expr("LENGTH(raw_summary) >= ?", domain.MinRawSummaryLength),
				sq.Expr("LENGTH(raw_body) >= ?", domain.MinRawBodyLength),
			},
		}
		if len(q.ExcludeSources) > 0 {
			raw = append(raw, sq.NotEq{"source": q.ExcludeSources})
		}
		builder = builder.Where(sq.Or{raw, relevantPredicate()})
	default:
		return nil, fmt.Errorf("query items: unknown stage filter %d", q.Stage)
	}

	if text := strings.ToLower(strings.TrimSpace(q.Text)); text != "" {
		pattern := "%" + likeEscaper.Replace(text) + "%"
		match := sq.Or{
			containsExpr("raw_title", pattern),
			containsExpr("raw_summary", pattern),
		}
		for _, col := range []string{"display_title", "tl_dr", "summary"} {
			if s.hasColumn(col) {
				match = append(match, containsExpr(col, pattern))
			}
		}
		builder = builder.Where(match)
	}
	if !q.Since.IsZero() {
		builder = builder.Where(sq.GtOrEq{"published_at": toMillis(q.Since)})
	}
	if q.ContentType != "" {
		builder = builder.Where(sq.Eq{"content_type": string(q.ContentType)})
	}

	return s.list(ctx, withLimit(builder.OrderBy(rankOrder...), q.Limit))
}

// Stats counts items per stage.
func (s *ItemStore) Stats(ctx context.Context, now time.Time) (domain.StoreStats, error) {
	query, args, err := s.sb.Select().
		Column("COUNT(*) AS total").
		Column("COALESCE(SUM(CASE WHEN relevance_checked THEN 0 ELSE 1 END), 0) AS unchecked").
		Column("COALESCE(SUM(CASE WHEN relevance_checked AND is_relevant THEN 1 ELSE 0 END), 0) AS relevant").
		Column("COALESCE(SUM(CASE WHEN summarized THEN 1 ELSE 0 END), 0) AS summarized").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN failure_count >= ? THEN 1 ELSE 0 END), 0) AS quarantined", s.quarantineLimit)).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN published_at >= ? THEN 1 ELSE 0 END), 0) AS recent_day", now.Add(-24*time.Hour).UnixMilli())).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN published_at >= ? THEN 1 ELSE 0 END), 0) AS recent_week", now.Add(-7*24*time.Hour).UnixMilli())).
		From("items").
		ToSql()
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("build stats: %w", err)
	}

	var row struct {
		Total       int `db:"total"`
		Unchecked   int `db:"unchecked"`
		Relevant    int `db:"relevant"`
		Summarized  int `db:"summarized"`
		Quarantined int `db:"quarantined"`
		RecentDay   int `db:"recent_day"`
		RecentWeek  int `db:"recent_week"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return domain.StoreStats{}, fmt.Errorf("select stats: %w", err)
	}

	return domain.StoreStats{
		Total:       row.Total,
		Unchecked:   row.Unchecked,
		Relevant:    row.Relevant,
		Summarized:  row.Summarized,
		Quarantined: row.Quarantined,
		RecentDay:   row.RecentDay,
		RecentWeek:  row.RecentWeek,
	}, nil
}

// DeleteOlderThan removes items published before cutoff.
func (s *ItemStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query, args, err := s.sb.Delete("items").Where(sq.Lt{"published_at": toMillis(cutoff)}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build retention delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete old items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Clear removes every item.
func (s *ItemStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items")
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

var rankOrder = []string{"COALESCE(relevance_score, 0) DESC", "published_at DESC", "id"}

func relevantPredicate() sq.Sqlizer {
	return sq.Eq{"relevance_checked": true, "is_relevant": true}
}

func summarizedPredicate() sq.Sqlizer {
	return sq.Eq{"relevance_checked": true, "is_relevant": true, "summarized": true}
}

func withLimit(builder sq.SelectBuilder, limit int) sq.SelectBuilder {
	if limit > 0 {
		return builder.Limit(uint64(limit))
	}
	return builder
}

func (s *ItemStore) selectItems() sq.SelectBuilder {
	return s.sb.Select(s.selectColumns()...).From("items")
}

func (s *ItemStore) selectColumns() []string {
	cols := append([]string(nil), coreColumns...)
	for _, col := range optionalColumns {
		if s.hasColumn(col.name) {
			cols = append(cols, col.name)
		}
	}
	return cols
}

func (s *ItemStore) list(ctx context.Context, builder sq.SelectBuilder) ([]domain.Item, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}

	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *ItemStore) hasColumn(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.columns[name]
}

func (s *ItemStore) setColumns(columns map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = columns
}

func (s *ItemStore) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *ItemStore) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilRefs(values []domain.Reference) []domain.Reference {
	if values == nil {
		return []domain.Reference{}
	}
	return values
}

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

const (
	defaultSearchTimeout = 2500 * time.Millisecond
	defaultBriefTopN     = 10
	defaultBriefWindow   = 7 * 24 * time.Hour
	defaultTopicTopK     = 15
	topicSummaryDocs     = 5
)

const (
	fallbackTopicSummary = "Recent developments in %s."
	fallbackTopicWhy     = "This topic is significant for AI research."
)

var (
	// ErrNotFound is returned for an unknown card id.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidTimeframe is returned for a timeframe other than 24h, 7d, 30d or all.
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	errZeroVector       = errors.New("query embedding is a zero vector")
)

// Tier is the quality level that answered a read.
type Tier int

const (
	TierNone Tier = iota
	TierSummarized
	TierRelevant
	TierRaw
)

var tiers = []Tier{TierSummarized, TierRelevant, TierRaw}

func (t Tier) String() string {
	switch t {
	case TierSummarized:
		return "summarized"
	case TierRelevant:
		return "relevant"
	case TierRaw:
		return "raw"
	default:
		return "none"
	}
}

// Feed is a list of cards with the lowest tier that contributed to it.
type Feed struct {
	Cards []domain.Card `json:"cards"`
	Tier  Tier          `json:"tier"`
	// Origin is "index" when the vector search answered, otherwise "store".
	Origin string `json:"origin"`
}

// Brief is the morning brief: top items of the recent window.
type Brief struct {
	Feed
	Window      string    `json:"window"`
	GeneratedAt time.Time `json:"generated_at"`
}

// TopicFeed answers a topic query with cards and a synthesized overview.
type TopicFeed struct {
	Feed
	Topic        string `json:"topic"`
	Timeframe    string `json:"timeframe"`
	TopicSummary string `json:"topic_summary"`
	WhyItMatters string `json:"why_it_matters"`
}

// RetrievalDeps wires the read path.
type RetrievalDeps struct {
	Store           ports.ItemStore
	Index           ports.SearchIndex
	Embedder        *SafeEmbedder
	Reasoner        ports.ReasoningClient
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	SearchTimeout   time.Duration
	ExcludedSources []string
	BriefTopN       int
	BriefWindow     time.Duration
	TopicTopK       int
	Model           string
	Now             func() time.Time
}

// RetrievalEngine serves reads from the best tier that has data. It holds no pipeline locks.
type RetrievalEngine struct {
	store         ports.ItemStore
	index         ports.SearchIndex
	embedder      *SafeEmbedder
	reasoner      ports.ReasoningClient
	metrics       *metrics.Metrics
	logger        *slog.Logger
	searchTimeout time.Duration
	excluded      []string
	briefTopN     int
	briefWindow   time.Duration
	topicTopK     int
	model         string
	now           func() time.Time
}

// NewRetrievalEngine applies defaults to zero-valued policy fields.
func NewRetrievalEngine(deps RetrievalDeps) *RetrievalEngine {
	r := &RetrievalEngine{
		store:         deps.Store,
		index:         deps.Index,
		embedder:      deps.Embedder,
		reasoner:      deps.Reasoner,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		searchTimeout: deps.SearchTimeout,
		excluded:      deps.ExcludedSources,
		briefTopN:     deps.BriefTopN,
		briefWindow:   deps.BriefWindow,
		topicTopK:     deps.TopicTopK,
		model:         deps.Model,
		now:           deps.Now,
	}
	if r.searchTimeout <= 0 {
		r.searchTimeout = defaultSearchTimeout
	}
	if r.briefTopN <= 0 {
		r.briefTopN = defaultBriefTopN
	}
	if r.briefWindow <= 0 {
		r.briefWindow = defaultBriefWindow
	}
	if r.topicTopK <= 0 {
		r.topicTopK = defaultTopicTopK
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// tierResult is the explicit outcome of a tier walk: ok is false when no tier had data.
type tierResult struct {
	items []domain.Item
	tier  Tier
	ok    bool
}

func (r *RetrievalEngine) tierQuery(tier Tier, base domain.ItemQuery) domain.ItemQuery {
	q := base
	switch tier {
	case TierSummarized:
		q.Stage = domain.FilterSummarized
	case TierRelevant:
		q.Stage = domain.FilterRelevant
	default:
		q.Stage = domain.FilterAnyWithContent
		q.ExcludeSources = r.excluded
	}
	return q
}

// firstTier returns the first tier with any matching item.
func (r *RetrievalEngine) firstTier(ctx context.Context, base domain.ItemQuery) (tierResult, error) {
	var lastErr error
	for _, tier := range tiers {
		items, err := r.store.Query(ctx, r.tierQuery(tier, base))
		if err != nil {
			lastErr = err
			r.warn("tier query failed", "tier", tier.String(), "error", err)
			continue
		}
		if len(items) > 0 {
			return tierResult{items: items, tier: tier, ok: true}, nil
		}
	}
	if lastErr != nil {
		return tierResult{}, fmt.Errorf("query tiers: %w", lastErr)
	}
	return tierResult{}, nil
}

// backfill fills a quota from successive tiers without repeating an id. The reported tier is
// the lowest one that contributed.
func (r *RetrievalEngine) backfill(ctx context.Context, base domain.ItemQuery) (tierResult, error) {
	limit := base.Limit
	seen := make(map[string]bool, limit)
	var (
		res     tierResult
		lastErr error
		failed  int
	)

	for _, tier := range tiers {
		if limit > 0 && len(res.items) >= limit {
			break
		}
		items, err := r.store.Query(ctx, r.tierQuery(tier, base))
		if err != nil {
			failed++
			lastErr = err
			r.warn("tier query failed", "tier", tier.String(), "error", err)
			continue
		}
		for _, item := range items {
			if seen[item.ID] {
				continue
			}
			if limit > 0 && len(res.items) >= limit {
				break
			}
			seen[item.ID] = true
			res.items = append(res.items, item)
			res.tier = tier
			res.ok = true
		}
	}

	if !res.ok && failed == len(tiers) {
		return tierResult{}, fmt.Errorf("query tiers: %w", lastErr)
	}
	return res, nil
}

func (r *RetrievalEngine) feed(res tierResult, origin string) Feed {
	cards := make([]domain.Card, 0, len(res.items))
	for _, item := range res.items {
		cards = append(cards, domain.CardFromItem(item))
	}
	return Feed{Cards: cards, Tier: res.tier, Origin: origin}
}

// Recent returns up to limit items published since the given time, best tier first and
// backfilled from lower tiers.
func (r *RetrievalEngine) Recent(ctx context.Context, limit int, since time.Time) (Feed, error) {
	if r.store == nil {
		return Feed{}, errors.New("retrieval engine has no store")
	}
	start := time.Now()

	res, err := r.backfill(ctx, domain.ItemQuery{Since: since, Limit: limit})
	if err != nil {
		return Feed{}, err
	}
	r.metrics.Retrieved("recent", res.tier.String(), time.Since(start))
	return r.feed(res, "store"), nil
}

// MorningBrief returns the top N items of the brief window, or of all time when the window is empty.
func (r *RetrievalEngine) MorningBrief(ctx context.Context) (Brief, error) {
	now := r.now()
	feed, err := r.Recent(ctx, r.briefTopN, now.Add(-r.briefWindow))
	if err != nil {
		return Brief{}, err
	}

	window := formatWindow(r.briefWindow)
	if len(feed.Cards) == 0 {
		r.debug("brief window empty, widening", "window", window)
		if feed, err = r.Recent(ctx, r.briefTopN, time.Time{}); err != nil {
			return Brief{}, err
		}
		window = "all"
	}
	return Brief{Feed: feed, Window: window, GeneratedAt: now}, nil
}

// Search matches text against titles and summaries, returning the first tier with matches.
func (r *RetrievalEngine) Search(ctx context.Context, text string, limit int, since time.Time) (Feed, error) {
	if r.store == nil {
		return Feed{}, errors.New("retrieval engine has no store")
	}
	start := time.Now()

	res, err := r.firstTier(ctx, domain.ItemQuery{Text: text, Since: since, Limit: limit})
	if err != nil {
		return Feed{}, err
	}
	r.metrics.Retrieved("search", res.tier.String(), time.Since(start))
	return r.feed(res, "store"), nil
}

// ByType returns items of one content type from the first tier that has any.
func (r *RetrievalEngine) ByType(ctx context.Context, ctype domain.ContentType, limit int) (Feed, error) {
	if r.store == nil {
		return Feed{}, errors.New("retrieval engine has no store")
	}
	start := time.Now()

	res, err := r.firstTier(ctx, domain.ItemQuery{ContentType: ctype, Limit: limit})
	if err != nil {
		return Feed{}, err
	}
	r.metrics.Retrieved("by_type", res.tier.String(), time.Since(start))
	return r.feed(res, "store"), nil
}

// Card renders one item from its most advanced stage.
func (r *RetrievalEngine) Card(ctx context.Context, id string) (domain.Card, error) {
	if r.store == nil {
		return domain.Card{}, errors.New("retrieval engine has no store")
	}

	item, err := r.store.Get(ctx, id)
	if err != nil {
		return domain.Card{}, fmt.Errorf("get item %s: %w", id, err)
	}
	if item == nil {
		return domain.Card{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return domain.CardFromItem(*item), nil
}

// ParseTimeframe converts 24h, 7d, 30d or all into a window start relative to now.
func ParseTimeframe(value string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "24h":
		return now.Add(-24 * time.Hour), nil
	case "7d", "":
		return now.Add(-7 * 24 * time.Hour), nil
	case "30d":
		return now.Add(-30 * 24 * time.Hour), nil
	case "all":
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, value)
	}
}

// Topic answers a topic query: vector search first within the search budget, store tiers on
// timeout, error or no hits. The overview is synthesized from the top cards.
func (r *RetrievalEngine) Topic(ctx context.Context, topic, timeframe string) (TopicFeed, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return TopicFeed{}, errors.New("topic is required")
	}
	if timeframe == "" {
		timeframe = "7d"
	}
	since, err := ParseTimeframe(timeframe, r.now())
	if err != nil {
		return TopicFeed{}, err
	}

	start := time.Now()
	var feed Feed
	if items, reason := r.vectorSearch(ctx, topic, r.topicTopK, since); reason == "" {
		feed = r.feed(tierResult{items: items, tier: TierSummarized, ok: true}, "index")
	} else {
		r.metrics.SearchFellBack(reason)
		r.debug("vector search fell back to store", "reason", reason, "topic", topic)
		if feed, err = r.Search(ctx, topic, r.topicTopK, since); err != nil {
			return TopicFeed{}, err
		}
	}
	r.metrics.Retrieved("topic", feed.Tier.String(), time.Since(start))

	summary, why := r.topicOverview(ctx, topic, feed.Cards)
	return TopicFeed{
		Feed:         feed,
		Topic:        topic,
		Timeframe:    timeframe,
		TopicSummary: summary,
		WhyItMatters: why,
	}, nil
}

type searchOutcome struct {
	hits []ports.IndexHit
	err  error
}

// vectorSearch returns resolved items or a non-empty fallback reason. The index call runs under
// a context cancelled when the budget expires; the buffered channel lets it finish without a reader.
func (r *RetrievalEngine) vectorSearch(ctx context.Context, text string, k int, since time.Time) ([]domain.Item, string) {
	if r.index == nil || r.embedder == nil {
		return nil, "disabled"
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	defer cancel()

	done := make(chan searchOutcome, 1)
	go func() {
		vec := r.embedder.Embed(searchCtx, text)
		if isZeroVector(vec) {
			done <- searchOutcome{err: errZeroVector}
			return
		}
		hits, err := r.index.Search(searchCtx, vec, k, since)
		done <- searchOutcome{hits: hits, err: err}
	}()

	var out searchOutcome
	select {
	case <-searchCtx.Done():
		select {
		case out = <-done:
		default:
			return nil, "timeout"
		}
	case out = <-done:
	}

	switch {
	case errors.Is(out.err, errZeroVector):
		return nil, "zero_vector"
	case out.err != nil:
		r.warn("vector search failed", "error", out.err)
		return nil, "error"
	case len(out.hits) == 0:
		return nil, "empty"
	}

	items := make([]domain.Item, 0, len(out.hits))
	for _, hit := range out.hits {
		if hit.ItemID == "" {
			continue
		}
		item, err := r.store.Get(ctx, hit.ItemID)
		if err != nil {
			r.warn("resolve index hit", "id", hit.ItemID, "error", err)
			continue
		}
		if item == nil || !item.Summarized {
			continue
		}
		items = append(items, *item)
	}
	if len(items) == 0 {
		return nil, "stale"
	}
	return items, ""
}

type topicReply struct {
	TopicSummary string `json:"topic_summary"`
	WhyItMatters string `json:"why_it_matters"`
}

func (r *RetrievalEngine) topicOverview(ctx context.Context, topic string, cards []domain.Card) (string, string) {
	summary := fmt.Sprintf(fallbackTopicSummary, topic)
	why := fallbackTopicWhy
	if r.reasoner == nil || len(cards) == 0 {
		return summary, why
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nRetrieved documents:\n", topic)
	for i, card := range cards {
		if i == topicSummaryDocs {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, card.Title, card.Summary)
	}
	b.WriteString(`Synthesize the key trends in 2-3 sentences and say in one sentence why the topic matters.
Respond with JSON only: {"topic_summary": "...", "why_it_matters": "..."}`)

	reply, err := r.reasoner.Complete(ctx, ports.Prompt{
		System:      "You are an expert AI research analyst. Provide accurate, concise topic summaries in JSON format.",
		User:        b.String(),
		Model:       r.model,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		r.warn("topic summary failed", "topic", topic, "error", err)
		return summary, why
	}

	var parsed topicReply
	if err := decodeReply(reply, &parsed); err != nil {
		r.warn("topic summary unparsable", "topic", topic, "error", err)
		return summary, why
	}
	if s := strings.TrimSpace(parsed.TopicSummary); s != "" {
		summary = s
	}
	if w := strings.TrimSpace(parsed.WhyItMatters); w != "" {
		why = w
	}
	return summary, why
}

func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	return d.String()
}

func (r *RetrievalEngine) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *RetrievalEngine) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

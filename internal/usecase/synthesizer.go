package usecase

import (
	"context"
	"encoding/json"
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
	defaultContentLimit = 4000
	defaultMaxSummarize = 20
	maxTags             = 3
	defaultWhyItMatters = "Research significance not determined."
)

const synthesisSystemPrompt = "You are an expert AI research analyst. Provide accurate, concise summaries in JSON format."

// ErrIncompleteSynthesis marks a reply that decoded but lacks the required card fields.
var ErrIncompleteSynthesis = errors.New("synthesis reply incomplete")

// SafeEmbedder never fails: any embedding error, or a vector of the wrong size, becomes a
// zero vector of the configured dimension.
type SafeEmbedder struct {
	inner   ports.Embedder
	dim     int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSafeEmbedder wraps inner. dim falls back to inner.Dimension() when zero.
func NewSafeEmbedder(inner ports.Embedder, dim int, m *metrics.Metrics, logger *slog.Logger) *SafeEmbedder {
	if dim <= 0 && inner != nil {
		dim = inner.Dimension()
	}
	return &SafeEmbedder{inner: inner, dim: dim, metrics: m, logger: logger}
}

// Dimension is the size of every returned vector.
func (e *SafeEmbedder) Dimension() int {
	return e.dim
}

// Embed returns the embedding of text or a zero vector.
func (e *SafeEmbedder) Embed(ctx context.Context, text string) []float32 {
	if e.inner == nil {
		return make([]float32, e.dim)
	}

	vec, err := e.inner.Embed(ctx, text)
	if err == nil && e.dim > 0 && len(vec) != e.dim {
		err = fmt.Errorf("embedding has %d dimensions, want %d", len(vec), e.dim)
	}
	if err != nil {
		e.metrics.EmbeddingFailed()
		if e.logger != nil {
			e.logger.Warn("embedding failed, using zero vector", "error", err)
		}
		return make([]float32, e.dim)
	}
	return vec
}

// EmbeddingText is the text a card is embedded under.
func EmbeddingText(title, tldr, summary, why string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{title, tldr, summary, why} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// SynthesizerDeps wires the synthesizer.
type SynthesizerDeps struct {
	Store        ports.ItemStore
	Reasoner     ports.ReasoningClient
	Embedder     *SafeEmbedder
	Index        *IndexSync
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	MaxPerRun    int
	ContentLimit int
	Model        string
	Now          func() time.Time
}

// Synthesizer turns relevant items into cards with an embedding.
type Synthesizer struct {
	store        ports.ItemStore
	reasoner     ports.ReasoningClient
	embedder     *SafeEmbedder
	index        *IndexSync
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxPerRun    int
	contentLimit int
	model        string
	now          func() time.Time
}

// SynthesisReport counts outcomes of one run.
type SynthesisReport struct {
	Summarized   int
	Failed       int
	Errors       int
	Indexed      int
	StaleRemoved int
}

// NewSynthesizer applies defaults to zero-valued policy fields.
func NewSynthesizer(deps SynthesizerDeps) *Synthesizer {
	s := &Synthesizer{
		store:        deps.Store,
		reasoner:     deps.Reasoner,
		embedder:     deps.Embedder,
		index:        deps.Index,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		maxPerRun:    deps.MaxPerRun,
		contentLimit: deps.ContentLimit,
		model:        deps.Model,
		now:          deps.Now,
	}
	if s.maxPerRun <= 0 {
		s.maxPerRun = defaultMaxSummarize
	}
	if s.contentLimit <= 0 {
		s.contentLimit = defaultContentLimit
	}
	if s.embedder == nil {
		s.embedder = NewSafeEmbedder(nil, 0, deps.Metrics, deps.Logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run summarizes one batch of pending items.
func (s *Synthesizer) Run(ctx context.Context) (domain.JobResult, error) {
	report, err := s.SummarizePending(ctx)
	if err != nil {
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}

	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("summarized %d items, %d failed", report.Summarized, report.Failed),
		Counts: map[string]int{
			"summarized":    report.Summarized,
			"failed":        report.Failed,
			"errors":        report.Errors,
			"indexed":       report.Indexed,
			"stale_removed": report.StaleRemoved,
		},
	}, nil
}

// SummarizePending processes up to MaxPerRun summarizable items, then syncs the index.
// Index problems are logged and never fail the run.
func (s *Synthesizer) SummarizePending(ctx context.Context) (SynthesisReport, error) {
	var report SynthesisReport
	if s.store == nil || s.reasoner == nil {
		return report, errors.New("synthesizer misconfigured")
	}

	items, err := s.store.ListSummarizable(ctx, s.maxPerRun)
	if err != nil {
		return report, fmt.Errorf("list summarizable: %w", err)
	}
	s.debug("synthesis run", "pending", len(items))

	done := make([]domain.Item, 0, len(items))
	for _, item := range items {
		fields, err := s.Synthesize(ctx, item)
		if err != nil {
			s.metrics.Synthesis("failed")
			s.warn("synthesis failed", "id", item.ID, "error", err)
			if _, fErr := s.store.RecordSynthesisFailure(ctx, item.ID); fErr != nil {
				report.Errors++
				s.warn("record synthesis failure", "id", item.ID, "error", fErr)
				continue
			}
			report.Failed++
			continue
		}

		applied, err := s.store.UpdateSummary(ctx, item.ID, fields)
		if err != nil {
			report.Errors++
			s.warn("update summary", "id", item.ID, "error", err)
			continue
		}
		if !applied {
			s.debug("summary not applied", "id", item.ID)
			continue
		}

		s.metrics.Synthesis("summarized")
		report.Summarized++
		done = append(done, applySummary(item, fields))
	}

	if s.index.Enabled() && len(items) > 0 {
		if report.Indexed, err = s.index.Upsert(ctx, done); err != nil {
			s.warn("index upsert failed", "error", err)
		}
		if report.StaleRemoved, err = s.index.Reconcile(ctx); err != nil {
			s.warn("stale cleanup failed", "error", err)
		}
	}

	s.info("synthesis done", "summarized", report.Summarized, "failed", report.Failed,
		"indexed", report.Indexed, "stale_removed", report.StaleRemoved)
	return report, nil
}

// Synthesize produces card fields for one item without touching the store.
func (s *Synthesizer) Synthesize(ctx context.Context, item domain.Item) (domain.SummaryFields, error) {
	reply, err := s.reasoner.Complete(ctx, ports.Prompt{
		System:      synthesisSystemPrompt,
		User:        buildSynthesisPrompt(s.content(item)),
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return domain.SummaryFields{}, fmt.Errorf("synthesis call: %w", err)
	}

	var parsed synthesisReply
	if err := decodeReply(reply, &parsed); err != nil {
		return domain.SummaryFields{}, err
	}

	tldr := strings.TrimSpace(parsed.TLDR)
	summary := strings.TrimSpace(parsed.Summary)
	if tldr == "" || summary == "" {
		return domain.SummaryFields{}, ErrIncompleteSynthesis
	}

	why := strings.TrimSpace(parsed.WhyItMatters)
	if why == "" {
		why = defaultWhyItMatters
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = strings.TrimSpace(item.RawTitle)
	}

	refs := make([]domain.Reference, 0, len(parsed.References))
	for _, r := range parsed.References {
		refs = append(refs, domain.Reference(r))
	}
	refs = cleanReferences(refs, item.RawLink)

	fields := domain.SummaryFields{
		ContentType:  s.contentType(item, parsed.Type),
		DisplayTitle: title,
		TLDR:         domain.TruncateRunes(tldr, domain.MaxTLDRLength),
		Summary:      summary,
		WhyItMatters: why,
		Tags:         normalizeTags(parsed.Tags),
		References:   refs,
		Snippet:      domain.Snippet(rawContent(item)),
		SummarizedAt: s.now().UTC(),
	}
	fields.Badges = domain.ExtractBadges(strings.Join([]string{item.RawTitle, item.RawSummary, item.RawBody, summary}, " "), refs)
	fields.Embedding = s.embedder.Embed(ctx, EmbeddingText(title, fields.TLDR, summary, why))
	return fields, nil
}

func (s *Synthesizer) content(item domain.Item) string {
	return "Title: " + strings.TrimSpace(item.RawTitle) + "\n\nContent: " +
		domain.TruncateRunes(rawContent(item), s.contentLimit)
}

func (s *Synthesizer) contentType(item domain.Item, suggested string) domain.ContentType {
	if strings.TrimSpace(suggested) != "" {
		return domain.ParseContentType(suggested)
	}
	if item.ContentType != "" {
		return item.ContentType
	}
	return domain.DetectContentType(item.RawLink, item.RawTitle)
}

func buildSynthesisPrompt(content string) string {
	return `Analyze this AI research or news content and provide:

1. tl_dr: one sentence, at most 140 characters, with the key insight
2. summary: 2-3 concise, factual sentences explaining what this is about
3. why_it_matters: one short sentence on the significance
4. tags: 1-3 topical tags such as "transformer", "computer-vision", "efficiency"
5. references: relevant links (papers, code, datasets) found in the content
6. type: one of paper, code, release, blog

Content:
` + content + `

Respond with JSON only:
{"tl_dr": "...", "summary": "...", "why_it_matters": "...", "tags": ["tag"], "references": [{"label": "Paper", "url": "https://..."}], "type": "paper"}`
}

type synthesisReply struct {
	Title        string           `json:"title"`
	TLDR         string           `json:"tl_dr"`
	Summary      string           `json:"summary"`
	WhyItMatters string           `json:"why_it_matters"`
	Tags         flexStrings      `json:"tags"`
	References   []referenceReply `json:"references"`
	Type         string           `json:"type"`
}

// referenceReply accepts {"label","url"} objects and bare URL strings.
type referenceReply struct {
	Label string
	URL   string
}

func (r *referenceReply) UnmarshalJSON(data []byte) error {
	var obj struct {
		Label string `json:"label"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		r.Label, r.URL = obj.Label, obj.URL
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.URL = s
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, maxTags)
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func rawContent(item domain.Item) string {
	if strings.TrimSpace(item.RawBody) != "" {
		return item.RawBody
	}
	return item.RawSummary
}

func itemTitle(item domain.Item) string {
	if item.DisplayTitle != "" {
		return item.DisplayTitle
	}
	return item.RawTitle
}

func applySummary(item domain.Item, fields domain.SummaryFields) domain.Item {
	at := fields.SummarizedAt
	item.Summarized = true
	item.FailureCount = 0
	item.ContentType = fields.ContentType
	item.DisplayTitle = fields.DisplayTitle
	item.TLDR = fields.TLDR
	item.Summary = fields.Summary
	item.WhyItMatters = fields.WhyItMatters
	item.Tags = fields.Tags
	item.Badges = fields.Badges
	item.References = fields.References
	item.Snippet = fields.Snippet
	item.SummarizedAt = &at
	item.Embedding = fields.Embedding
	return item
}

func (s *Synthesizer) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Synthesizer) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Synthesizer) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

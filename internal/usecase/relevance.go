package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"AIFlash/internal/domain"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
)

const (
	defaultBatchSize       = 10
	defaultThreshold       = 0.7
	defaultMaxUnchecked    = 100
	relevancePreviewLength = 200
)

const relevanceSystemPrompt = "You are filtering items for an AI research aggregator. " +
	"Score how strongly each item is about AI, machine learning or technology research. Reply with JSON only."

// RelevanceDeps wires the relevance filter.
type RelevanceDeps struct {
	Store     ports.ItemStore
	Reasoner  ports.ReasoningClient
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	BatchSize int
	Threshold float64
	// MaxPerRun caps how many unchecked items one run pulls from the store.
	MaxPerRun int
	Model     string
}

// RelevanceFilter scores unchecked items in batches, one reasoning call per batch.
type RelevanceFilter struct {
	store     ports.ItemStore
	reasoner  ports.ReasoningClient
	metrics   *metrics.Metrics
	logger    *slog.Logger
	batchSize int
	threshold float64
	maxPerRun int
	model     string
}

// RelevanceReport counts per-item outcomes of one run.
type RelevanceReport struct {
	Batches    int
	Relevant   int
	Irrelevant int
	// Failed items had a transport error and grew their failure counter.
	Failed int
	// Skipped items came back in an unparsable reply and stay unchecked.
	Skipped int
	Errors  int
}

// NewRelevanceFilter applies defaults to zero-valued policy fields.
func NewRelevanceFilter(deps RelevanceDeps) *RelevanceFilter {
	f := &RelevanceFilter{
		store:     deps.Store,
		reasoner:  deps.Reasoner,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		batchSize: deps.BatchSize,
		threshold: deps.Threshold,
		maxPerRun: deps.MaxPerRun,
		model:     deps.Model,
	}
	if f.batchSize <= 0 {
		f.batchSize = defaultBatchSize
	}
	if f.threshold <= 0 || f.threshold > 1 {
		f.threshold = defaultThreshold
	}
	if f.maxPerRun <= 0 {
		f.maxPerRun = defaultMaxUnchecked
	}
	return f
}

// Run checks up to MaxPerRun unchecked items.
func (f *RelevanceFilter) Run(ctx context.Context) (domain.JobResult, error) {
	report, err := f.CheckPending(ctx)
	if err != nil {
		return domain.JobResult{Success: false, Message: err.Error()}, err
	}

	return domain.JobResult{
		Success: true,
		Message: fmt.Sprintf("checked %d items in %d batches: %d relevant, %d irrelevant, %d failed, %d skipped",
			report.Relevant+report.Irrelevant, report.Batches, report.Relevant, report.Irrelevant, report.Failed, report.Skipped),
		Counts: map[string]int{
			"batches":    report.Batches,
			"relevant":   report.Relevant,
			"irrelevant": report.Irrelevant,
			"failed":     report.Failed,
			"skipped":    report.Skipped,
			"errors":     report.Errors,
		},
	}, nil
}

// CheckPending loads unchecked items and scores them batch by batch.
func (f *RelevanceFilter) CheckPending(ctx context.Context) (RelevanceReport, error) {
	if f.store == nil || f.reasoner == nil {
		return RelevanceReport{}, errors.New("relevance filter misconfigured")
	}

	items, err := f.store.ListUnchecked(ctx, f.maxPerRun)
	if err != nil {
		return RelevanceReport{}, fmt.Errorf("list unchecked: %w", err)
	}
	f.debug("relevance run", "unchecked", len(items), "batch_size", f.batchSize)

	var report RelevanceReport
	for start := 0; start < len(items); start += f.batchSize {
		end := start + f.batchSize
		if end > len(items) {
			end = len(items)
		}
		f.checkBatch(ctx, items[start:end], &report)
		report.Batches++
	}

	f.metrics.Relevance("relevant", report.Relevant)
	f.metrics.Relevance("irrelevant", report.Irrelevant)
	f.metrics.Relevance("failed", report.Failed)
	f.metrics.Relevance("skipped", report.Skipped)
	return report, nil
}

func (f *RelevanceFilter) checkBatch(ctx context.Context, batch []domain.Item, report *RelevanceReport) {
	reply, err := f.reasoner.Complete(ctx, ports.Prompt{
		System:      relevanceSystemPrompt,
		User:        buildRelevancePrompt(batch),
		Model:       f.model,
		Temperature: 0.1,
		MaxTokens:   800,
	})
	if err != nil {
		f.metrics.RelevanceBatch("transport_error")
		f.warn("relevance call failed", "items", len(batch), "error", err)
		for _, item := range batch {
			if _, uErr := f.store.UpdateRelevance(ctx, item.ID, domain.RelevanceUpdate{Failed: true}); uErr != nil {
				report.Errors++
				f.warn("record relevance failure", "id", item.ID, "error", uErr)
				continue
			}
			report.Failed++
		}
		return
	}

	scores, err := parseRelevanceReply(reply, len(batch))
	if err != nil {
		f.metrics.RelevanceBatch("unparsable")
		f.warn("relevance reply unparsable, batch left unchecked", "items", len(batch), "error", err)
		report.Skipped += len(batch)
		return
	}
	f.metrics.RelevanceBatch("ok")

	for i, item := range batch {
		score, scored := scores[i]
		update := domain.RelevanceUpdate{Relevant: scored && score >= f.threshold}
		if update.Relevant {
			s := score
			update.Score = &s
		}

		applied, err := f.store.UpdateRelevance(ctx, item.ID, update)
		if err != nil {
			report.Errors++
			f.warn("update relevance", "id", item.ID, "error", err)
			continue
		}
		if !applied {
			f.debug("relevance already recorded", "id", item.ID)
			continue
		}
		if update.Relevant {
			report.Relevant++
		} else {
			report.Irrelevant++
		}
	}
}

func buildRelevancePrompt(batch []domain.Item) string {
	var b strings.Builder
	b.WriteString("Score each article below for relevance to AI, machine learning or technology research.\n\n")

	for i, item := range batch {
		preview := item.RawSummary
		if strings.TrimSpace(preview) == "" {
			preview = item.RawBody
		}
		fmt.Fprintf(&b, "Article %d:\n- Title: %s\n- Source: %s\n- Preview: %s\n---\n",
			i+1, item.RawTitle, item.Source, domain.TruncateRunes(preview, relevancePreviewLength))
	}

	b.WriteString("\nRelevant: research papers, model and tool releases, AI industry developments, technical tutorials.\n")
	b.WriteString("Not relevant: general business, politics, sports, entertainment or lifestyle content.\n\n")
	b.WriteString(`Return ONLY this JSON object, one entry per article number, score between 0 and 1:` + "\n")
	b.WriteString(`{"results": [{"index": 1, "score": 0.92, "reason": "short rationale"}]}`)
	return b.String()
}

type relevanceReply struct {
	Results     *[]json.RawMessage `json:"results"`
	RelevantIDs []flexIndex        `json:"relevant_ids"`
}

// relevanceResult ignores the rationale field; models put anything there.
type relevanceResult struct {
	Index flexIndex `json:"index"`
	Score flexScore `json:"score"`
}

// parseRelevanceReply maps 1-based article numbers to 0-based batch positions. Entries that are not
// objects, carry an out-of-range index or a score outside [0,1] are dropped; the first entry for an
// index wins. A reply without a results array is an error so the batch stays unchecked.
func parseRelevanceReply(reply string, size int) (map[int]float64, error) {
	var parsed relevanceReply
	if err := decodeReply(reply, &parsed); err != nil {
		return nil, err
	}

	scores := make(map[int]float64)
	switch {
	case parsed.Results != nil:
		for _, entry := range *parsed.Results {
			var r relevanceResult
			if err := json.Unmarshal(entry, &r); err != nil {
				continue
			}
			if !r.Index.ok || !r.Score.ok {
				continue
			}
			pos := r.Index.value - 1
			if pos < 0 || pos >= size || r.Score.value < 0 || r.Score.value > 1 {
				continue
			}
			if _, seen := scores[pos]; !seen {
				scores[pos] = r.Score.value
			}
		}
	case parsed.RelevantIDs != nil:
		for _, idx := range parsed.RelevantIDs {
			if pos := idx.value - 1; idx.ok && pos >= 0 && pos < size {
				scores[pos] = 1
			}
		}
	default:
		return nil, fmt.Errorf("%w: reply has no results array", ErrNoJSON)
	}
	return scores, nil
}

func (f *RelevanceFilter) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *RelevanceFilter) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

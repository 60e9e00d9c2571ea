package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AIFlash/internal/domain"
	"AIFlash/internal/infrastructure/storage"
	"AIFlash/internal/ports"
)

var errServiceDown = errors.New("service unavailable")

func newStore(t *testing.T) *storage.ItemStore {
	t.Helper()

	db, dialect, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewItemStore(storage.ItemStoreDeps{DB: db, Dialect: dialect, QuarantineLimit: 3})
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newRaw(title, source string, published time.Time) domain.RawItem {
	return domain.RawItem{
		Title:       title,
		Summary:     "A summary of " + title + " that is long enough for the raw tier to show it.",
		Body:        strings.Repeat(title+" body text. ", 8),
		Link:        "https://news.labfeed.dev/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Source:      source,
		PublishedAt: published,
	}
}

func seed(t *testing.T, store ports.ItemStore, raws ...domain.RawItem) []string {
	t.Helper()

	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		ok, err := store.InsertRaw(context.Background(), raw)
		require.NoError(t, err)
		require.True(t, ok)
		ids = append(ids, raw.ID())
	}
	return ids
}

func setRelevant(t *testing.T, store ports.ItemStore, id string, score float64) {
	t.Helper()
	ok, err := store.UpdateRelevance(context.Background(), id, domain.RelevanceUpdate{Relevant: true, Score: &score})
	require.NoError(t, err)
	require.True(t, ok)
}

func setSummarized(t *testing.T, store ports.ItemStore, id string, embedding []float32) {
	t.Helper()
	ok, err := store.UpdateSummary(context.Background(), id, domain.SummaryFields{
		ContentType:  domain.TypeBlog,
		DisplayTitle: "Card " + id,
		TLDR:         "tl;dr for " + id,
		Summary:      "Summary for " + id + ".",
		WhyItMatters: "It matters.",
		Tags:         []string{"llm"},
		References:   []domain.Reference{{Label: "Source", URL: "https://news.labfeed.dev/" + id}},
		Embedding:    embedding,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func cardIDs(cards []domain.Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.ID)
	}
	return out
}

// fakeReasoner replays scripted replies in order; the last one repeats.
type fakeReasoner struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []ports.Prompt
}

func (f *fakeReasoner) Complete(_ context.Context, prompt ports.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.prompts)
	f.prompts = append(f.prompts, prompt)

	if len(f.errs) > 0 {
		if err := f.errs[min(call, len(f.errs)-1)]; err != nil {
			return "", err
		}
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	return f.replies[min(call, len(f.replies)-1)], nil
}

func (f *fakeReasoner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeEmbedder returns a deterministic vector derived from the text length.
type fakeEmbedder struct {
	dim  int
	err  error
	seen []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.seen = append(f.seen, text)
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32((len(text)+i)%7+1) / 7
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func relevanceReplyFor(scores ...float64) string {
	parts := make([]string, 0, len(scores))
	for i, s := range scores {
		parts = append(parts, fmt.Sprintf(`{"index": %d, "score": %.2f, "reason": "r"}`, i+1, s))
	}
	return "Here you go:\n```json\n{\"results\": [" + strings.Join(parts, ",") + "]}\n```"
}

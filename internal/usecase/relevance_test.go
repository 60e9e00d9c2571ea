package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AIFlash/internal/domain"
)

var day = time.Date(2025, time.November, 10, 8, 0, 0, 0, time.UTC)

func TestRelevanceMarksItemsByThreshold(t *testing.T) {
	store := newStore(t)
	ids := seed(t, store,
		newRaw("Sparse attention for long context", "Lab", day.Add(3*time.Hour)),
		newRaw("Quarterly retail earnings recap", "Lab", day.Add(2*time.Hour)),
		newRaw("Open weights diffusion model", "Lab", day.Add(time.Hour)),
	)

	reasoner := &fakeReasoner{replies: []string{relevanceReplyFor(0.91, 0.2, 0.7)}}
	filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: reasoner})

	result, err := filter.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Counts["relevant"])
	assert.Equal(t, 1, result.Counts["irrelevant"])
	assert.Equal(t, 1, reasoner.calls())

	first, err := store.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.True(t, first.Relevant())
	assert.InDelta(t, 0.91, first.Score(), 1e-9)

	second, err := store.Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.True(t, second.RelevanceChecked)
	assert.False(t, second.Relevant())
	assert.Nil(t, second.RelevanceScore)

	third, err := store.Get(context.Background(), ids[2])
	require.NoError(t, err)
	assert.True(t, third.Relevant(), "a score equal to the threshold is relevant")
}

func TestRelevanceBatchesRequests(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 23; i++ {
		seed(t, store, newRaw("Research item number "+string(rune('A'+i)), "Lab", day.Add(time.Duration(i)*time.Minute)))
	}

	reasoner := &fakeReasoner{replies: []string{`{"results": []}`}}
	filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: reasoner, BatchSize: 10})

	report, err := filter.CheckPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 3, reasoner.calls())
	assert.Equal(t, 23, report.Irrelevant, "items missing from a valid reply are not relevant")

	pending, err := store.ListUnchecked(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelevanceUnparsableReplyLeavesItemsUnchecked(t *testing.T) {
	store := newStore(t)
	ids := seed(t, store, newRaw("Agents that write their own tools", "Lab", day))

	reasoner := &fakeReasoner{replies: []string{"I think the first article is relevant."}}
	filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: reasoner})

	report, err := filter.CheckPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	item, err := store.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.False(t, item.RelevanceChecked)
	assert.Zero(t, item.FailureCount)
}

func TestRelevanceTransportErrorCountsFailuresUntilQuarantine(t *testing.T) {
	store := newStore(t)
	ids := seed(t, store,
		newRaw("Mixture of experts routing study", "Lab", day),
		newRaw("Benchmarking small language models", "Lab", day.Add(time.Hour)),
	)

	reasoner := &fakeReasoner{errs: []error{errServiceDown}}
	filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: reasoner})

	for run := 1; run <= 3; run++ {
		report, err := filter.CheckPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Failed, "run %d", run)
	}

	for _, id := range ids {
		item, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 3, item.FailureCount)
		assert.False(t, item.RelevanceChecked)
	}

	report, err := filter.CheckPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Batches, "quarantined items are not selected again")
	assert.Equal(t, 3, reasoner.calls())
}

func TestRelevanceDropsMalformedEntries(t *testing.T) {
	store := newStore(t)
	ids := seed(t, store,
		newRaw("Retrieval augmented generation survey", "Lab", day.Add(2*time.Hour)),
		newRaw("Vision transformers on the edge", "Lab", day.Add(time.Hour)),
	)

	reply := `Sure! {"results": [
		{"index": 9, "score": 0.99},
		{"index": "article_1", "score": "0.8", "reason": "uses {braces} in text"},
		{"index": 1, "score": 0.1},
		{"index": 2, "score": 1.7},
		{"index": "two", "score": 0.95}
	]} trailing words`
	filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: &fakeReasoner{replies: []string{reply}}})

	report, err := filter.CheckPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Relevant)
	assert.Equal(t, 1, report.Irrelevant)

	first, err := store.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.8, first.Score(), 1e-9, "first entry for an index wins")

	second, err := store.Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.False(t, second.Relevant(), "out of range score is dropped")
}

func TestRelevanceKeepsBatchWhenOneEntryIsBroken(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		secondRelevant bool
	}{
		{
			name:           "non-string reason",
			reply:          `{"results":[{"index":1,"score":0.95,"reason":"ok"},{"index":2,"score":0.9,"reason":7}]}`,
			secondRelevant: true,
		},
		{
			name:  "non-object entry",
			reply: `{"results":[{"index":1,"score":0.95,"reason":"ok"},"garbage",null]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			ids := seed(t, store,
				newRaw("Speculative decoding in practice", "Lab", day.Add(time.Hour)),
				newRaw("Weekend football roundup", "Lab", day),
			)
			filter := NewRelevanceFilter(RelevanceDeps{Store: store, Reasoner: &fakeReasoner{replies: []string{tt.reply}}})

			report, err := filter.CheckPending(context.Background())
			require.NoError(t, err)
			assert.Zero(t, report.Skipped)
			assert.Equal(t, 2, report.Relevant+report.Irrelevant)

			first, err := store.Get(context.Background(), ids[0])
			require.NoError(t, err)
			assert.True(t, first.RelevanceChecked)
			assert.InDelta(t, 0.95, first.Score(), 1e-9)

			second, err := store.Get(context.Background(), ids[1])
			require.NoError(t, err)
			assert.True(t, second.RelevanceChecked)
			assert.Equal(t, tt.secondRelevant, second.Relevant())
		})
	}
}

func TestRelevanceMisconfigured(t *testing.T) {
	_, err := NewRelevanceFilter(RelevanceDeps{}).Run(context.Background())
	require.Error(t, err)
}

func TestParseRelevanceReply(t *testing.T) {
	scores, err := parseRelevanceReply(`{"relevant_ids": ["article_2", "article_7"]}`, 3)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 1}, scores)

	_, err = parseRelevanceReply(`{"verdict": "all good"}`, 3)
	assert.True(t, errors.Is(err, ErrNoJSON))

	_, err = parseRelevanceReply(`no json here`, 3)
	assert.True(t, errors.Is(err, ErrNoJSON))

	scores, err = parseRelevanceReply(`{"results": [{"index": 0, "score": 0.9}, {"index": 3.0, "score": 0}]}`, 3)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{2: 0}, scores)
}

func TestBuildRelevancePromptNumbersArticles(t *testing.T) {
	prompt := buildRelevancePrompt([]domain.Item{
		{RawTitle: "First", Source: "A", RawSummary: "short"},
		{RawTitle: "Second", Source: "B", RawBody: "body only"},
	})

	assert.Contains(t, prompt, "Article 1:\n- Title: First\n- Source: A\n- Preview: short")
	assert.Contains(t, prompt, "Article 2:\n- Title: Second\n- Source: B\n- Preview: body only")
	assert.Contains(t, prompt, `"results"`)
}

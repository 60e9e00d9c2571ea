package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RawItem is what a fetcher hands over to the store: immutable ingestion fields only.
type RawItem struct {
	Title       string
	Summary     string
	Body        string
	Link        string
	Source      string
	PublishedAt time.Time
}

// ID derives the stable identifier so re-fetching the same content is idempotent.
func (r RawItem) ID() string {
	return ItemID(r.Title, r.Source, r.PublishedAt)
}

// ItemID hashes title, source and publication time into "<source>:<8 hex>".
func ItemID(title, source string, publishedAt time.Time) string {
	key := fmt.Sprintf("%s:%s:%s", title, source, publishedAt.UTC().Format(time.RFC3339))
	sum := md5.Sum([]byte(key))
	return strings.ToLower(strings.TrimSpace(source)) + ":" + hex.EncodeToString(sum[:])[:8]
}

// Item is the full record owned by the item store.
type Item struct {
	ID          string
	RawTitle    string
	RawSummary  string
	RawBody     string
	RawLink     string
	Source      string
	PublishedAt time.Time
	IngestedAt  time.Time

	RelevanceChecked bool
	// IsRelevant is nil until a check succeeded.
	IsRelevant *bool
	// RelevanceScore is only set when IsRelevant is true.
	RelevanceScore *float64

	Summarized      bool
	ContentType     ContentType
	DisplayTitle    string
	TLDR            string
	Summary         string
	WhyItMatters    string
	Tags            []string
	Badges          []string
	References      []Reference
	Snippet         string
	SynthesisFailed bool
	SummarizedAt    *time.Time
	Embedding       []float32

	FailureCount int
}

// Relevant reports whether the item passed a relevance check.
func (i Item) Relevant() bool {
	return i.RelevanceChecked && i.IsRelevant != nil && *i.IsRelevant
}

// Score returns the relevance score or zero when absent.
func (i Item) Score() float64 {
	if i.RelevanceScore == nil {
		return 0
	}
	return *i.RelevanceScore
}

// Stage names the furthest lifecycle milestone an item reached.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageChecked    Stage = "checked"
	StageRelevant   Stage = "relevant"
	StageSummarized Stage = "summarized"
)

// Stage resolves the lifecycle milestone for diagnostics.
func (i Item) Stage() Stage {
	switch {
	case i.Summarized:
		return StageSummarized
	case i.Relevant():
		return StageRelevant
	case i.RelevanceChecked:
		return StageChecked
	default:
		return StageRaw
	}
}

// RelevanceUpdate is the outcome of one relevance check for one item.
type RelevanceUpdate struct {
	Relevant bool
	Score    *float64
	// Failed records a transport failure: the check is not recorded and the failure counter grows.
	Failed bool
}

// SummaryFields carries everything the synthesizer persists in one write.
type SummaryFields struct {
	ContentType  ContentType
	DisplayTitle string
	TLDR         string
	Summary      string
	WhyItMatters string
	Tags         []string
	Badges       []string
	References   []Reference
	Snippet      string
	Embedding    []float32
	SummarizedAt time.Time
}

// IndexKey sanitizes an item id for use as a search index key.
func IndexKey(id string) string {
	return strings.NewReplacer(" ", "_", ":", "_").Replace(id)
}

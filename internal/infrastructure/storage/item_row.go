package storage

import (
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"sync"

	"AIFlash/internal/domain"
)

type itemRow struct {
	ID               string          `db:"id"`
	RawTitle         string          `db:"raw_title"`
	RawSummary       string          `db:"raw_summary"`
	RawBody          string          `db:"raw_body"`
	RawLink          string          `db:"raw_link"`
	Source           string          `db:"source"`
	PublishedAt      int64           `db:"published_at"`
	IngestedAt       int64           `db:"ingested_at"`
	ContentType      string          `db:"content_type"`
	RelevanceChecked bool            `db:"relevance_checked"`
	IsRelevant       sql.NullBool    `db:"is_relevant"`
	RelevanceScore   sql.NullFloat64 `db:"relevance_score"`
	Summarized       bool            `db:"summarized"`
	FailureCount     int             `db:"failure_count"`

	DisplayTitle    sql.NullString `db:"display_title"`
	TLDR            sql.NullString `db:"tl_dr"`
	Summary         sql.NullString `db:"summary"`
	WhyItMatters    sql.NullString `db:"why_it_matters"`
	Tags            sql.NullString `db:"tags"`
	Badges          sql.NullString `db:"badges"`
	Refs            sql.NullString `db:"refs"`
	Snippet         sql.NullString `db:"snippet"`
	SynthesisFailed sql.NullBool   `db:"synthesis_failed"`
	SummarizedAt    sql.NullInt64  `db:"summarized_at"`
	Embedding       sql.NullString `db:"embedding"`
}

func (r itemRow) toDomain() domain.Item {
	item := domain.Item{
		ID:               r.ID,
		RawTitle:         r.RawTitle,
		RawSummary:       r.RawSummary,
		RawBody:          r.RawBody,
		RawLink:          r.RawLink,
		Source:           r.Source,
		PublishedAt:      fromMillis(r.PublishedAt),
		IngestedAt:       fromMillis(r.IngestedAt),
		ContentType:      domain.ParseContentType(r.ContentType),
		RelevanceChecked: r.RelevanceChecked,
		Summarized:       r.Summarized,
		FailureCount:     r.FailureCount,
		DisplayTitle:     r.DisplayTitle.String,
		TLDR:             r.TLDR.String,
		Summary:          r.Summary.String,
		WhyItMatters:     r.WhyItMatters.String,
		Snippet:          r.Snippet.String,
		SynthesisFailed:  r.SynthesisFailed.Valid && r.SynthesisFailed.Bool,
	}

	if r.RelevanceChecked && r.IsRelevant.Valid {
		relevant := r.IsRelevant.Bool
		item.IsRelevant = &relevant
		if relevant && r.RelevanceScore.Valid {
			score := r.RelevanceScore.Float64
			item.RelevanceScore = &score
		}
	}
	if r.SummarizedAt.Valid && r.SummarizedAt.Int64 > 0 {
		at := fromMillis(r.SummarizedAt.Int64)
		item.SummarizedAt = &at
	}

	decodeJSON(r.Tags, &item.Tags)
	decodeJSON(r.Badges, &item.Badges)
	decodeJSON(r.Refs, &item.References)
	decodeJSON(r.Embedding, &item.Embedding)
	return item
}

// decodeJSON leaves dst untouched for NULL or corrupt values.
func decodeJSON(src sql.NullString, dst any) {
	if !src.Valid || src.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(src.String), dst)
}

const lockStripes = 64

// keyLock serializes writers of the same id without a table-wide lock.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{}
}

func (k *keyLock) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

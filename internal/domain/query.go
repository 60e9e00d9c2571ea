package domain

import "time"

// StageFilter selects which lifecycle stage a store query reads from.
type StageFilter int

const (
	// FilterSummarized matches checked, relevant and summarized items.
	FilterSummarized StageFilter = iota + 1
	// FilterRelevant matches checked and relevant items regardless of summarization.
	FilterRelevant
	// FilterAnyWithContent matches any item carrying enough raw text to render a card.
	FilterAnyWithContent
)

func (f StageFilter) String() string {
	switch f {
	case FilterSummarized:
		return "summarized"
	case FilterRelevant:
		return "relevant"
	case FilterAnyWithContent:
		return "raw"
	default:
		return "unknown"
	}
}

// Raw-content thresholds for the last-resort tier.
const (
	MinRawTitleLength   = 10
	MinRawSummaryLength = 50
	MinRawBodyLength    = 100
)

// ItemQuery is the store-level read request used by retrieval.
type ItemQuery struct {
	Stage StageFilter
	// Text is matched case-insensitively against titles and summaries.
	Text string
	// Since restricts by published_at; zero means no window.
	Since       time.Time
	ContentType ContentType
	// ExcludeSources is honored only for FilterAnyWithContent.
	ExcludeSources []string
	Limit          int
}

// StoreStats summarizes item counts per stage for health and status reporting.
type StoreStats struct {
	Total       int `json:"total"`
	Unchecked   int `json:"unchecked"`
	Relevant    int `json:"relevant"`
	Summarized  int `json:"summarized"`
	Quarantined int `json:"quarantined"`
	RecentDay   int `json:"recent_24h"`
	RecentWeek  int `json:"recent_7d"`
}

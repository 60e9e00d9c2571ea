package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTLDRLength bounds the one-line summary shown on a card.
	MaxTLDRLength = 140
	// ProcessingPlaceholder fills why_it_matters for items still in the pipeline.
	ProcessingPlaceholder = "This item is still being processed."
	snippetLength         = 300
)

// ContentType classifies items for the by-type read path.
type ContentType string

const (
	TypePaper   ContentType = "paper"
	TypeCode    ContentType = "code"
	TypeRelease ContentType = "release"
	TypeBlog    ContentType = "blog"
)

// ParseContentType maps free text onto a known type, defaulting to blog.
func ParseContentType(value string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(value))) {
	case TypePaper:
		return TypePaper
	case TypeCode:
		return TypeCode
	case TypeRelease:
		return TypeRelease
	default:
		return TypeBlog
	}
}

// DetectContentType guesses a type from link and title.
func DetectContentType(link, title string) ContentType {
	link = strings.ToLower(link)
	title = strings.ToLower(title)

	switch {
	case strings.Contains(link, "arxiv.org") || strings.Contains(title, "paper"):
		return TypePaper
	case strings.Contains(link, "github.com") || strings.Contains(title, "code"):
		return TypeCode
	case strings.Contains(title, "release") || strings.Contains(title, "announce"):
		return TypeRelease
	default:
		return TypeBlog
	}
}

// Badge values allowed on cards.
const (
	BadgeCode      = "CODE"
	BadgeData      = "DATA"
	BadgeRepro     = "REPRO"
	BadgeBenchmark = "BENCHMARK"
	BadgeTutorial  = "TUTORIAL"
)

// ExtractBadges derives badges from content keywords and reference hosts.
func ExtractBadges(content string, refs []Reference) []string {
	content = strings.ToLower(content)
	var badges []string

	for _, ref := range refs {
		if strings.Contains(strings.ToLower(ref.URL), "github.com") {
			badges = append(badges, BadgeCode)
			break
		}
	}
	if containsAny(content, "dataset", "data", "benchmark") {
		badges = append(badges, BadgeData)
	}
	if containsAny(content, "reproduce", "replication", "open source") {
		badges = append(badges, BadgeRepro)
	}
	if containsAny(content, "benchmark", "evaluation", "performance") {
		badges = append(badges, BadgeBenchmark)
	}
	if containsAny(content, "tutorial", "step-by-step", "how to") {
		badges = append(badges, BadgeTutorial)
	}
	return badges
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Reference is a labelled link shown on a card.
type Reference struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Card is the read-side projection returned by retrieval.
type Card struct {
	ID              string      `json:"content_id"`
	Type            ContentType `json:"type"`
	Title           string      `json:"title"`
	Source          string      `json:"source"`
	PublishedAt     time.Time   `json:"published_at"`
	TLDR            string      `json:"tl_dr"`
	Summary         string      `json:"summary"`
	WhyItMatters    string      `json:"why_it_matters"`
	Badges          []string    `json:"badges"`
	Tags            []string    `json:"tags"`
	References      []Reference `json:"references"`
	Snippet         string      `json:"snippet,omitempty"`
	SynthesisFailed bool        `json:"synthesis_failed"`
	// Placeholder is true when the card was built from raw fields.
	Placeholder bool    `json:"placeholder"`
	Score       float64 `json:"relevance_score,omitempty"`
}

// CardFromItem renders synthesized fields when available, otherwise a placeholder card.
func CardFromItem(item Item) Card {
	if !item.Summarized {
		return PlaceholderCard(item)
	}

	title := item.DisplayTitle
	if title == "" {
		title = item.RawTitle
	}
	tldr := item.TLDR
	if tldr == "" {
		tldr = TruncateRunes(item.RawTitle, MaxTLDRLength)
	}
	ctype := item.ContentType
	if ctype == "" {
		ctype = TypeBlog
	}

	return Card{
		ID:              item.ID,
		Type:            ctype,
		Title:           title,
		Source:          item.Source,
		PublishedAt:     item.PublishedAt,
		TLDR:            tldr,
		Summary:         firstNonEmpty(item.Summary, item.RawSummary),
		WhyItMatters:    item.WhyItMatters,
		Badges:          nonNil(item.Badges),
		Tags:            nonNil(item.Tags),
		References:      nonNilRefs(item.References),
		Snippet:         item.Snippet,
		SynthesisFailed: item.SynthesisFailed,
		Score:           item.Score(),
	}
}

// PlaceholderCard builds a card from raw ingestion fields only.
func PlaceholderCard(item Item) Card {
	var refs []Reference
	if item.RawLink != "" {
		refs = append(refs, Reference{Label: "Source", URL: item.RawLink})
	}

	return Card{
		ID:           item.ID,
		Type:         DetectContentType(item.RawLink, item.RawTitle),
		Title:        item.RawTitle,
		Source:       item.Source,
		PublishedAt:  item.PublishedAt,
		TLDR:         TruncateRunes(item.RawTitle, MaxTLDRLength),
		Summary:      firstNonEmpty(item.RawSummary, item.RawBody),
		WhyItMatters: ProcessingPlaceholder,
		Badges:       []string{},
		Tags:         []string{},
		References:   nonNilRefs(refs),
		Snippet:      Snippet(firstNonEmpty(item.RawBody, item.RawSummary)),
		Placeholder:  true,
		Score:        item.Score(),
	}
}

// TruncateRunes cuts s to max runes, ending with "..." when something was dropped.
func TruncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}

// Snippet returns the leading part of content for previews.
func Snippet(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	return string([]rune(content)[:snippetLength]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilRefs(values []Reference) []Reference {
	if values == nil {
		return []Reference{}
	}
	return values
}

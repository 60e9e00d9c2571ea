// Package index holds the search index adapters mirrored from the item store.
package index

import (
	"math"
	"strconv"
	"strings"
	"time"

	"AIFlash/internal/ports"
)

// SchemaVersion is bumped whenever the stored field set changes.
const SchemaVersion = 2

// Payload field names written for every entry.
const (
	fieldKey         = "key"
	fieldItemID      = "item_id"
	fieldTitle       = "title"
	fieldTLDR        = "tl_dr"
	fieldSummary     = "summary"
	fieldSource      = "source"
	fieldType        = "type"
	fieldPublishedAt = "published_at"
	fieldTags        = "tags"
	fieldVersion     = "schema_version"
)

var schemaFields = []string{
	fieldKey, fieldItemID, fieldTitle, fieldTLDR, fieldSummary,
	fieldSource, fieldType, fieldPublishedAt, fieldTags, fieldVersion,
}

// missingFields lists schema fields absent from a stored entry.
func missingFields(has func(string) bool) []string {
	var missing []string
	for _, f := range schemaFields {
		if !has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// prepareVector returns a unit-length copy of v. Zero or empty vectors become a uniform
// unit vector so a failed embedding still produces a valid, if uninformative, entry.
func prepareVector(v []float32, dim int) []float32 {
	n := len(v)
	if n == 0 {
		n = dim
	}
	if n == 0 {
		return nil
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	out := make([]float32, n)
	if sum == 0 {
		u := float32(1 / math.Sqrt(float64(n)))
		for i := range out {
			out[i] = u
		}
		return out
	}

	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func metadataOf(e ports.IndexEntry) map[string]string {
	return map[string]string{
		fieldKey:         e.Key,
		fieldItemID:      e.ItemID,
		fieldTitle:       e.Title,
		fieldTLDR:        e.TLDR,
		fieldSummary:     e.Summary,
		fieldSource:      e.Source,
		fieldType:        e.Type,
		fieldPublishedAt: strconv.FormatInt(e.PublishedAt.UnixMilli(), 10),
		fieldTags:        strings.Join(e.Tags, ","),
		fieldVersion:     strconv.Itoa(SchemaVersion),
	}
}

func publishedAfter(metadata map[string]string, since time.Time) bool {
	if since.IsZero() {
		return true
	}
	ms, err := strconv.ParseInt(metadata[fieldPublishedAt], 10, 64)
	if err != nil {
		return false
	}
	return ms >= since.UnixMilli()
}

package usecase

import (
	"net/url"
	"strings"

	"AIFlash/internal/domain"
)

const sourceLabel = "Source"

var placeholderMarkers = []string{
	"example.com", "example.org", "example.net",
	"...", "<url>", "xxx", "placeholder", "your-link", "link-here",
}

// validReferenceURL rejects non-http(s), host-less, whitespace-containing and placeholder URLs.
func validReferenceURL(raw string) bool {
	if raw == "" || raw != strings.TrimSpace(raw) || strings.ContainsAny(raw, " \t\r\n") {
		return false
	}

	lower := strings.ToLower(raw)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := u.Hostname()
	return host != "" && strings.Contains(host, ".")
}

// normalizeURL folds cosmetic variants together: scheme and host case, a leading www. and a
// trailing slash. Path, query and fragment stay as they are.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?" + u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#" + u.Fragment)
	}
	return b.String()
}

// cleanReferences keeps valid links once each and makes sure the source link is listed,
// unless the source link itself is invalid.
func cleanReferences(refs []domain.Reference, sourceLink string) []domain.Reference {
	seen := make(map[string]bool, len(refs)+1)
	out := make([]domain.Reference, 0, len(refs)+1)

	add := func(ref domain.Reference) {
		if !validReferenceURL(ref.URL) {
			return
		}
		key := normalizeURL(ref.URL)
		if seen[key] {
			return
		}
		seen[key] = true

		label := strings.TrimSpace(ref.Label)
		if label == "" {
			label = "Reference"
		}
		out = append(out, domain.Reference{Label: label, URL: ref.URL})
	}

	for _, ref := range refs {
		add(ref)
	}
	add(domain.Reference{Label: sourceLabel, URL: strings.TrimSpace(sourceLink)})
	return out
}

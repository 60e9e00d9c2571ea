package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoJSON is returned when a model reply carries no decodable JSON object.
var ErrNoJSON = errors.New("no json object in reply")

// extractJSONObject returns the first balanced {...} block of s. Braces inside string
// literals are ignored, so prose around the object or code fences do not matter.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// decodeReply locates the first JSON object in reply and decodes it into v.
func decodeReply(reply string, v any) error {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return nil
}

// flexIndex accepts 3, 3.0, "3" and "article_3".
type flexIndex struct {
	value int
	ok    bool
}

func (f *flexIndex) UnmarshalJSON(data []byte) error {
	f.ok = false

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n == float64(int(n)) {
			f.value, f.ok = int(n), true
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		f.value, f.ok = v, true
		return nil
	}
	if i := strings.LastIndexAny(s, "_ #"); i >= 0 {
		s = s[i+1:]
	}
	if v, err := strconv.Atoi(s); err == nil {
		f.value, f.ok = v, true
	}
	return nil
}

// flexScore accepts numbers and numeric strings. Anything else leaves ok false.
type flexScore struct {
	value float64
	ok    bool
}

func (f *flexScore) UnmarshalJSON(data []byte) error {
	f.ok = false

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.value, f.ok = n, true
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		f.value, f.ok = v, true
	}
	return nil
}

// flexStrings accepts a list of strings or a single comma separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		*f = out
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*f = out
		return nil
	}

	*f = nil
	return nil
}

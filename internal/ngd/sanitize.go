package ngd

import (
	"regexp"
	"strings"
)

// keyParam matches a key=... parameter with its leading separator. The
// trailing separator is left alone so back-to-back keys each match.
var keyParam = regexp.MustCompile(`(\?|&amp;|&|;)key=[^&#;\s"'<>]*`)

// separators that may follow a removed parameter, longest first.
var separators = []string{"&amp;", "&", ";"}

// SanitizeString removes every key=... query parameter from URL-shaped text,
// keeping the remaining parameters and separators well-formed.
//
//	https://h/p?key=K&f=json       -> https://h/p?f=json
//	https://h/p?f=json&key=K       -> https://h/p?f=json
//	https://h/p?a=1&key=K&b=2      -> https://h/p?a=1&b=2
//	https://h/p?key=K&key=L        -> https://h/p
//	https://h/p?f=json&amp;key=K   -> https://h/p?f=json
func SanitizeString(s string) string {
	if !strings.Contains(s, "key=") {
		return s
	}
	matches := keyParam.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	// query is set once a removed key opened the query string; the next
	// surviving parameter then takes over the '?'.
	query := false
	flush := func(seg string) {
		if query {
			query = false
			for _, sep := range separators {
				if rest, ok := strings.CutPrefix(seg, sep); ok {
					b.WriteByte('?')
					b.WriteString(rest)
					return
				}
			}
		}
		b.WriteString(seg)
	}

	last := 0
	for _, m := range matches {
		if m[0] > last {
			flush(s[last:m[0]])
		}
		if s[m[2]:m[3]] == "?" {
			query = true
		}
		last = m[1]
	}
	flush(s[last:])
	return b.String()
}

// Sanitize walks a decoded JSON value and strips API keys from every string
// it contains, including map keys. Maps and slices are rewritten in place.
func Sanitize(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		for k, val := range t {
			clean := SanitizeString(k)
			if clean != k {
				delete(t, k)
			}
			t[clean] = Sanitize(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = Sanitize(t[i])
		}
		return t
	default:
		return v
	}
}

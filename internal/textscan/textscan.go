// Package textscan pulls URLs, domains, keywords and JSON fragments out of free
// text: task descriptions and generative completions.
package textscan

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}]+`)
	// a bare domain such as example.com or docs.go.dev/path, not part of an
	// email address or a longer URL
	domainPattern = regexp.MustCompile(`(?i)(?:^|[\s(])((?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}(?:/[^\s"'<>()]*)?)`)
)

// commonTLDs keeps bare-domain detection from matching things like "e.g" or "file.txt".
var commonTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "io": true, "dev": true, "ai": true, "app": true,
	"edu": true, "gov": true, "co": true, "us": true, "uk": true, "de": true, "fr": true,
	"info": true, "biz": true, "me": true, "tv": true, "news": true, "tech": true, "xyz": true,
	"ca": true, "au": true, "jp": true, "in": true, "eu": true, "site": true, "cloud": true,
}

// FirstURL returns the first absolute http(s) URL in text.
func FirstURL(text string) (string, bool) {
	m := urlPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.TrimRight(m, ".,;:!?"), true
}

// URLs returns every absolute http(s) URL in text, in order of appearance.
func URLs(text string) []string {
	var out []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		out = append(out, strings.TrimRight(m, ".,;:!?"))
	}
	return out
}

// BareDomain returns the first domain-looking token that is not already part
// of an absolute URL.
func BareDomain(text string) (string, bool) {
	stripped := urlPattern.ReplaceAllString(text, " ")
	for _, m := range domainPattern.FindAllStringSubmatch(stripped, -1) {
		candidate := strings.TrimRight(m[1], ".,;:!?")
		host := candidate
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host = host[:i]
		}
		dot := strings.LastIndexByte(host, '.')
		if dot < 0 {
			continue
		}
		if commonTLDs[strings.ToLower(host[dot+1:])] {
			return candidate, true
		}
	}
	return "", false
}

// EnsureScheme prefixes a bare domain with https://.
func EnsureScheme(target string) string {
	t := strings.TrimSpace(target)
	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return t
	}
	return "https://" + t
}

// Words splits text into lower-case word tokens. Hyphens and underscores stay
// inside words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	})
}

// HasAnyWord reports whether one of words occurs as a whole word in text.
func HasAnyWord(text string, words ...string) bool {
	set := make(map[string]bool)
	for _, w := range Words(text) {
		set[w] = true
	}
	for _, w := range words {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// StripFence returns the body of a leading ``` or ~~~ fenced block, or s
// unchanged when it does not start with one.
func StripFence(s string) string {
	trim := strings.TrimLeft(trimBOM(s), "\n\r\t ")
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(trim, fence) {
			continue
		}
		rest := trim[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return s
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return s
	}
	return s
}

// FirstObject returns the first balanced, well-formed JSON object in s.
func FirstObject(s string) (string, bool) {
	return first(s, '{')
}

// FirstArray returns the first balanced, well-formed JSON array in s. A leading
// fenced block is unwrapped first.
func FirstArray(s string) (string, bool) {
	return first(s, '[')
}

func first(s string, open byte) (string, bool) {
	s = StripFence(trimBOM(strings.TrimSpace(s)))
	for i := 0; i < len(s); i++ {
		if s[i] != open {
			continue
		}
		if seg, ok := balancedFrom(s, i); ok && json.Valid([]byte(seg)) {
			return seg, true
		}
	}
	return "", false
}

// balancedFrom scans from the opener at start to its matching closer, ignoring
// brackets inside strings.
func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escape   bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{') != (c == '}') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

// Package respproc is the ResponseProcessor component (SPEC_FULL.md §4.G):
// a small hand-written tokenizer for the LLM's custom tag schema, plus the
// commit path that turns a parsed batch into Store rows and VectorIndex
// documents.
package respproc

import "strings"

// tagMatch is one scanned instance of a tag: its raw attribute string
// (between the tag name and the closing '>' of the opening tag) and its
// inner content.
type tagMatch struct {
	attrs   string
	content string
}

// stripPrivate removes every <private>...</private> block before any
// other parsing runs, per spec.md §4.G: private content is never
// persisted, so it must not even reach the observation/summary scanners.
func stripPrivate(s string) string {
	const open, close = "<private>", "</private>"
	for {
		start := strings.Index(s, open)
		if start == -1 {
			return s
		}
		rest := s[start+len(open):]
		end := strings.Index(rest, close)
		if end == -1 {
			// unterminated: drop everything from the opening tag onward
			return s[:start]
		}
		s = s[:start] + rest[end+len(close):]
	}
}

// findTags scans src for every top-level, non-nested <tag ...>...</tag>
// instance, in order of appearance. The tag content here is deliberately
// not well-formed XML (sibling <fact> tags repeat, <private> is stripped
// ahead of time), so a full XML parser buys nothing; a linear scan for
// matching open/close pairs is enough since none of these tags nest a
// same-named child.
func findTags(src, tag string) []tagMatch {
	var matches []tagMatch
	openPrefix := "<" + tag
	closeTag := "</" + tag + ">"
	pos := 0
	for pos < len(src) {
		idx := strings.Index(src[pos:], openPrefix)
		if idx == -1 {
			break
		}
		openStart := pos + idx
		afterName := openStart + len(openPrefix)
		if afterName >= len(src) || !isTagBoundary(src[afterName]) {
			// e.g. "<factor>" must not match tag "fact"
			pos = openStart + 1
			continue
		}
		gt := strings.IndexByte(src[afterName:], '>')
		if gt == -1 {
			break
		}
		attrs := strings.TrimSpace(src[afterName : afterName+gt])
		contentStart := afterName + gt + 1
		closeIdx := strings.Index(src[contentStart:], closeTag)
		if closeIdx == -1 {
			pos = contentStart
			continue
		}
		matches = append(matches, tagMatch{
			attrs:   attrs,
			content: src[contentStart : contentStart+closeIdx],
		})
		pos = contentStart + closeIdx + len(closeTag)
	}
	return matches
}

func isTagBoundary(b byte) bool {
	return b == '>' || b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '/'
}

// firstTag returns the first instance of tag in src, trimmed.
func firstTag(src, tag string) (string, bool) {
	matches := findTags(src, tag)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[0].content), true
}

// allTags returns every non-empty, trimmed instance of tag in src.
func allTags(src, tag string) []string {
	matches := findTags(src, tag)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if v := strings.TrimSpace(m.content); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// attrValue extracts name="value" from a raw attribute string.
func attrValue(attrs, name string) (string, bool) {
	key := name + "=\""
	idx := strings.Index(attrs, key)
	if idx == -1 {
		return "", false
	}
	start := idx + len(key)
	end := strings.IndexByte(attrs[start:], '"')
	if end == -1 {
		return "", false
	}
	return attrs[start : start+end], true
}

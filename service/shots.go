package service

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// Shot planner output arrives in whatever shape the LLM felt like producing:
// a real array, a JSON string, a JSON string nested inside a JSON string, or
// plain prose with "Shot N" labels. ParseShotPrompts turns any of them into
// an ordered list of non-empty trimmed prompts. A zero-length result means
// the input was unusable and the caller should reject it.
func ParseShotPrompts(v interface{}) (prompts []string) {
	defer func() {
		if r := recover(); r != nil {
			if s, ok := v.(string); ok {
				prompts = splitBlankLines(s)
			} else {
				prompts = nil
			}
		}
	}()

	switch val := v.(type) {
	case []string:
		return keepNonEmpty(val)
	case []interface{}:
		return stringElements(val)
	case string:
		return parseShotsText(val)
	default:
		return nil
	}
}

func parseShotsText(s string) []string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		// An empty parsed array is a real answer: the caller rejects it
		// instead of submitting the raw JSON text as a prompt.
		if out, ok := parseShotsJSON(trimmed); ok {
			return out
		}
	}
	if shotMarkerPattern.MatchString(s) {
		return splitOnMarkers(s)
	}
	return splitBlankLines(s)
}

// parseShotsJSON handles the structured cases: a JSON array, an object with a
// "shots" array, or an object whose "shots" field is itself an encoded JSON
// string. Strict parsing is tried first, then the tolerant repair.
func parseShotsJSON(s string) ([]string, bool) {
	var parsed interface{}
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		if err2 := json.Unmarshal([]byte(repairJSON(s)), &parsed); err2 != nil {
			return nil, false
		}
	}

	switch val := parsed.(type) {
	case []interface{}:
		return stringElements(val), true
	case map[string]interface{}:
		shots, ok := val["shots"]
		if !ok {
			return nil, false
		}
		switch sv := shots.(type) {
		case []interface{}:
			return stringElements(sv), true
		case string:
			return parseEncodedShots(sv)
		}
	}
	return nil, false
}

// parseEncodedShots decodes a double-encoded shots string. Strategies are
// tried in order, first one yielding an array wins:
//  1. artifact fixes for known LLM formatting mistakes, then strict parse
//  2. tolerant repair of the original string
//  3. tolerant repair of the fixed string
func parseEncodedShots(s string) ([]string, bool) {
	candidates := []string{
		fixPromptArtifacts(s),
		repairJSON(s),
		repairJSON(fixPromptArtifacts(s)),
	}
	for _, candidate := range candidates {
		var arr []interface{}
		if err := json.Unmarshal([]byte(candidate), &arr); err == nil {
			return stringElements(arr), true
		}
	}
	return nil, false
}

// repairJSON is a best-effort structural fix-up of near-valid JSON: literal
// control characters inside string literals are escaped and trailing commas
// are dropped. It never returns worse input than it was given something
// strict parsing could handle.
func repairJSON(s string) string {
	return dropTrailingCommas(escapeControlChars(s))
}

var (
	shotMarkerPattern = regexp.MustCompile(`(?im)^\s*(?:shot|scene)\s*\d+`)
	strayQuoteMarker  = regexp.MustCompile(`""+\s*((?:Shot|Scene)\s*\d+)`)
	blankLinePattern  = regexp.MustCompile(`\n\s*\n`)
)

// fixPromptArtifacts targets formatting mistakes LLMs make when emitting a
// JSON array as a string: doubled quotes before Shot/Scene section markers
// and raw newlines inside string literals.
func fixPromptArtifacts(s string) string {
	s = strayQuoteMarker.ReplaceAllString(s, `"$1`)
	return escapeControlChars(s)
}

// escapeControlChars replaces literal newlines and tabs occurring inside
// JSON string literals with their escape sequences. Characters outside
// strings are left alone.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				inString = false
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				// swallowed; the matching \n produces the escape
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dropTrailingCommas removes commas directly preceding a closing bracket or
// brace, outside string literals.
func dropTrailingCommas(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case '"':
			inString = true
			b.WriteRune(r)
		case ',':
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j < len(runes) && (runes[j] == ']' || runes[j] == '}') {
				continue
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitOnMarkers cuts the text at each "Shot N" / "Scene N" label, keeping
// the label as part of its segment.
func splitOnMarkers(s string) []string {
	locs := shotMarkerPattern.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return splitBlankLines(s)
	}
	var out []string
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := strings.TrimSpace(s[loc[0]:end])
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

// splitBlankLines is the last-resort split. It is idempotent: segments it
// produces contain no blank-line boundaries themselves.
func splitBlankLines(s string) []string {
	var out []string
	for _, part := range blankLinePattern.Split(s, -1) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func keepNonEmpty(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func stringElements(items []interface{}) []string {
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

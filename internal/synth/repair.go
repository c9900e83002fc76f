package synth

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// DecodeLoose unmarshals model output that may wrap JSON in prose or
// markdown fences. The ladder: direct parse, fenced block, first balanced
// object. Each rung only runs when the previous one fails.
func DecodeLoose(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return eris.New("synth: empty model output")
	}

	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	if obj := firstObject(raw); obj != "" {
		if err := json.Unmarshal([]byte(obj), v); err == nil {
			return nil
		}
	}

	return eris.Errorf("synth: no parseable JSON in model output (%d bytes)", len(raw))
}

// firstObject returns the first balanced {...} in s, respecting strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

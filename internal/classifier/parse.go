package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/KafClaw/tenka/internal/mode"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAny  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// payloadCandidates returns the texts that may hold the JSON object, in the
// order they should be tried.
func payloadCandidates(raw string) []string {
	var out []string
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if m := fencedAny.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	out = append(out, strings.TrimSpace(raw))
	if span := firstObject(raw); span != "" {
		out = append(out, span)
	}
	return out
}

// firstObject returns the first balanced {...} span of s, honoring JSON strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeObject unmarshals the first candidate that is a JSON object.
func decodeObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformed)
	}
	for _, c := range payloadCandidates(raw) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON object found", ErrMalformed)
}

// ParseResult parses raw classifier output. Errors wrap ErrMalformed.
func ParseResult(raw string, catalog *mode.Catalog) (Result, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Result{}, err
	}
	modeStr, ok := obj["mode"].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: mode missing or not a string", ErrMalformed)
	}
	m, ok := catalog.Normalize(modeStr)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown mode %q", ErrMalformed, modeStr)
	}
	conf, err := parseConfidence(obj["confidence"])
	if err != nil {
		return Result{}, err
	}
	return Result{
		Mode:          m,
		Reason:        stringField(obj, "reason"),
		Confidence:    conf,
		Clarification: stringField(obj, "clarification"),
		Raw:           raw,
	}, nil
}

// parseConfidence accepts numbers and numeric strings and clamps to [0,1].
// A missing value counts as zero confidence.
func parseConfidence(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: confidence %q is not a number", ErrMalformed, t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: confidence has type %T", ErrMalformed, v)
	}
	return clamp01(f), nil
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

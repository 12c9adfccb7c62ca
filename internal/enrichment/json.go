package enrichment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// extractJSONObject returns the first balanced JSON object in text. Models
// occasionally wrap output in code fences even in JSON mode.
func extractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escape := false
	for i, ch := range text[start:] {
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : start+i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unterminated JSON object in response")
}

var priceNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// flexiblePrice accepts 5, "5", "$5.50", "free" and null.
type flexiblePrice struct {
	Value *float64
}

func (p *flexiblePrice) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		p.Value = &n
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "free" || s == "no cost" {
		zero := 0.0
		p.Value = &zero
		return nil
	}
	if m := priceNumber.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			p.Value = &v
		}
	}
	return nil
}

// stringList accepts a JSON array of strings or a single comma separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = compact(list)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	*l = compact(strings.Split(s, ","))
	return nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// flexibleBool accepts true/false as booleans or as "yes"/"no" style strings.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexibleBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "required":
		*b = true
	}
	return nil
}

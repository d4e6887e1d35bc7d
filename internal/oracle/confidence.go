package oracle

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeConfidence coerces the confidence field of an oracle verdict
// into [0,1]. Providers return it as a fraction, a 0-100 percentage, a
// numeric string, a string with a percent sign, or a word. Anything
// unrecognizable normalizes to 0.
func NormalizeConfidence(v any) float64 {
	switch c := v.(type) {
	case float64:
		return normalizeNumeric(c)
	case int:
		return normalizeNumeric(float64(c))
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return 0
		}
		return normalizeNumeric(f)
	case string:
		return normalizeString(c)
	default:
		return 0
	}
}

func normalizeNumeric(f float64) float64 {
	// Values above 1 are treated as percentages.
	if f > 1 {
		f /= 100
	}
	return clampUnit(f)
}

func normalizeString(s string) float64 {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "high", "very high":
		return 0.9
	case "medium", "moderate":
		return 0.6
	case "low":
		return 0.3
	case "very low":
		return 0.1
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	if percent {
		f /= 100
	}
	return normalizeNumeric(f)
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tally/internal/core"
)

// Uncertainty flags synthesized by the sanitizer.
const (
	UncertainAmount     = "Amount extraction unclear"
	UncertainMerchant   = "Merchant name not detected"
	UncertainConfidence = "Low extraction confidence"
)

const lowConfidenceThreshold = 70

// Sanitize converts a raw model payload into a fully typed Result. Model
// output is untrusted input: fields are whitelisted, numbers coerced and
// clamped, the date checked against the calendar, and the suggested category
// checked against the caller's list. runDate substitutes an unparseable date.
func Sanitize(payload map[string]any, categories []Category, runDate core.Date) Result {
	res := Result{
		Description: strings.TrimSpace(asString(payload["description"])),
		Merchant:    strings.TrimSpace(asString(payload["merchant"])),
		RawText:     asString(payload["raw_text"]),
		Amount:      nonNegative(asNumber(payload["amount"])),
		Tax:         nonNegative(asNumber(payload["tax"])),
		Tip:         nonNegative(asNumber(payload["tip"])),
		Confidence:  clampConfidence(asNumber(payload["confidence"])),
	}

	if d, err := core.ParseDate(asString(payload["date"])); err == nil {
		res.Date = d.String()
	} else {
		res.Date = runDate.String()
	}

	res.SuggestedCategory = matchCategory(payload["suggested_category"], categories)

	// Keep whatever uncertainty strings the model reported, then add ours.
	if raw, ok := payload["uncertainties"].([]any); ok {
		for _, u := range raw {
			if s := strings.TrimSpace(asString(u)); s != "" {
				res.Uncertainties = append(res.Uncertainties, s)
			}
		}
	}
	if res.Amount == 0 {
		res.Uncertainties = appendFlag(res.Uncertainties, UncertainAmount)
	}
	if res.Merchant == "" {
		res.Uncertainties = appendFlag(res.Uncertainties, UncertainMerchant)
	}
	if res.Confidence < lowConfidenceThreshold {
		res.Uncertainties = appendFlag(res.Uncertainties, UncertainConfidence)
	}

	return res
}

func matchCategory(raw any, categories []Category) *Category {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	id, ok := asID(obj["id"])
	if !ok {
		return nil
	}
	for _, c := range categories {
		if c.ID == id {
			// Use the caller's canonical name, not the model's echo.
			match := c
			return &match
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asNumber coerces model output to a float64, returning 0 for anything that
// is not a finite number.
func asNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func clampConfidence(f float64) int {
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(f)
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

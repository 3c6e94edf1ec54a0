package nlu

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Intent tags produced by the extractor.
const (
	IntentPriceCheck = "price_check"
	IntentLogistics  = "logistics"
	IntentGeneral    = "general"
)

// Fallback values used whenever extraction is skipped or fails.
const (
	DefaultLanguage = "en"
	DefaultCrop     = "tomato"
)

// Extraction is the structured guess for one inbound message.
type Extraction struct {
	Language string
	Intent   string
	Crop     string
	// WeightKg is zero when the message carried no usable weight.
	WeightKg float64
}

// DefaultExtraction is the safe placeholder for empty bodies and extractor failures.
func DefaultExtraction() Extraction {
	return Extraction{
		Language: DefaultLanguage,
		Intent:   IntentGeneral,
		Crop:     DefaultCrop,
	}
}

var jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)

type rawExtraction struct {
	DetectedLang string          `json:"detected_lang"`
	Intent       string          `json:"intent"`
	Crop         *string         `json:"crop"`
	WeightKg     json.RawMessage `json:"weight_kg"`
}

// parseExtraction pulls the first JSON object out of a model completion.
func parseExtraction(completion string) (Extraction, error) {
	block := jsonObjectRegex.FindString(completion)
	if block == "" {
		return Extraction{}, fmt.Errorf("no json block in completion")
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := Extraction{
		Language: strings.ToLower(strings.TrimSpace(raw.DetectedLang)),
		Intent:   strings.ToLower(strings.TrimSpace(raw.Intent)),
	}
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	if out.Intent == "" {
		out.Intent = IntentGeneral
	}
	if raw.Crop != nil {
		out.Crop = strings.ToLower(strings.TrimSpace(*raw.Crop))
	}
	out.WeightKg = parseWeight(raw.WeightKg)
	return out, nil
}

// parseWeight accepts numbers, numeric strings and strings such as "300kg".
func parseWeight(raw json.RawMessage) float64 {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return positive(num)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0
	}
	str = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(str)), "kg"))
	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0
	}
	return positive(num)
}

func positive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

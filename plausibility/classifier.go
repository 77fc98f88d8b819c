// Package plausibility filters physically implausible sensor values before
// they reach series history. Raw sensor networks emit zeros and wild
// readings during power-on, disconnects, and bus errors; storing those
// corrupts rolling statistics with spurious spikes. The filter is a
// conservative heuristic, not a domain model: false negatives are
// acceptable, silent corruption is not.
package plausibility

import "strings"

// Category is the inferred kind of a series, derived from its label.
type Category int

const (
	// CategoryGeneric is the fallback for unmatched series.
	CategoryGeneric Category = iota
	// CategoryTemperature covers air and soil temperature sensors.
	CategoryTemperature
	// CategoryHumidity covers humidity and soil-moisture style percentages.
	CategoryHumidity
	// CategoryIlluminance covers light sensors (lux).
	CategoryIlluminance
	// CategoryCO2 covers carbon dioxide concentration (ppm).
	CategoryCO2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTemperature:
		return "temperature"
	case CategoryHumidity:
		return "humidity"
	case CategoryIlluminance:
		return "illuminance"
	case CategoryCO2:
		return "co2"
	default:
		return "generic"
	}
}

// Classifier infers a series' category from its human label and internal
// key. Implementations are free-text heuristics; keep them pluggable so
// the keyword table can grow without touching call sites.
type Classifier interface {
	Classify(title, key string) Category
}

// KeywordClassifier matches case-insensitive substrings against both the
// declared title and the internal identifier. First matching category in
// a fixed precedence order wins.
type KeywordClassifier struct {
	keywords map[Category][]string
}

// Keyword tables carry both English and Korean terms: deployed sensor
// labels in the field mix both freely.
func defaultKeywords() map[Category][]string {
	return map[Category][]string{
		CategoryTemperature: {"temp", "temperature", "온도"},
		CategoryHumidity:    {"humid", "humidity", "moisture", "soil", "습도", "수분", "토양"},
		CategoryIlluminance: {"lux", "light", "illumin", "조도", "광량"},
		CategoryCO2:         {"co2", "co₂", "이산화탄소"},
	}
}

// categoryPrecedence fixes match order so a label like "soil temp" is
// classified deterministically.
var categoryPrecedence = []Category{
	CategoryTemperature,
	CategoryHumidity,
	CategoryIlluminance,
	CategoryCO2,
}

// NewKeywordClassifier creates a classifier with the default keyword table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: defaultKeywords()}
}

// AddKeywords extends a category's keyword list.
func (kc *KeywordClassifier) AddKeywords(category Category, words ...string) {
	for _, w := range words {
		kc.keywords[category] = append(kc.keywords[category], strings.ToLower(w))
	}
}

// Classify infers the category from title and key.
func (kc *KeywordClassifier) Classify(title, key string) Category {
	haystack := strings.ToLower(title) + " " + strings.ToLower(key)

	for _, category := range categoryPrecedence {
		for _, keyword := range kc.keywords[category] {
			if strings.Contains(haystack, keyword) {
				return category
			}
		}
	}
	return CategoryGeneric
}

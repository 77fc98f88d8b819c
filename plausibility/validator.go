package plausibility

import "math"

// Range is a category's numeric acceptance window.
type Range struct {
	Min float64
	Max float64
	// RejectZero drops exact zeros: a hard 0 from a temperature or
	// humidity sensor almost always means a read failure, not a reading.
	RejectZero bool
	// ExclusiveMin rejects values equal to Min.
	ExclusiveMin bool
}

// Contains reports whether value is acceptable for the range.
func (r Range) Contains(value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	if r.RejectZero && value == 0 {
		return false
	}
	if r.ExclusiveMin {
		if value <= r.Min {
			return false
		}
	} else if value < r.Min {
		return false
	}
	return value <= r.Max
}

// Acceptance ranges per category. Empirically tuned against field data;
// a faithful baseline rather than ground truth.
var categoryRanges = map[Category]Range{
	CategoryTemperature: {Min: -50, Max: 80, RejectZero: true},
	CategoryHumidity:    {Min: 0, Max: 100, ExclusiveMin: true},
	CategoryIlluminance: {Min: 0, Max: 200000},
	CategoryCO2:         {Min: 300, Max: 5000},
	CategoryGeneric:     {Min: -1e6, Max: 1e6, RejectZero: true},
}

// RangeFor returns the acceptance range for a category.
func RangeFor(category Category) Range {
	if r, ok := categoryRanges[category]; ok {
		return r
	}
	return categoryRanges[CategoryGeneric]
}

// Validator applies the category-specific plausibility range to samples.
type Validator struct {
	classifier Classifier
}

// NewValidator creates a validator. A nil classifier falls back to the
// default keyword classifier.
func NewValidator(classifier Classifier) *Validator {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Validator{classifier: classifier}
}

// IsPlausible reports whether value is acceptable for the series
// identified by its title and key. Implausible values are expected to be
// silently dropped by the caller, which should count the drops for
// observability.
func (v *Validator) IsPlausible(title, key string, value float64) bool {
	category := v.classifier.Classify(title, key)
	return RangeFor(category).Contains(value)
}

// Classify exposes the underlying classification for logging and tests.
func (v *Validator) Classify(title, key string) Category {
	return v.classifier.Classify(title, key)
}

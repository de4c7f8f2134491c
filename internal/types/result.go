// internal/types/result.go
package types

/*
 * Reverse-parse result model.
 *
 * ParseResult is produced only by the reverse parser. Confidence measures
 * syntactic/semantic recovery of the source; detected-pattern confidence is an
 * independent scale measuring business-pattern recognition. The two never mix.
 *
 * Confidence bands: >= 0.80 high, 0.60-0.79 medium, < 0.60 low. Bands are an
 * interpretation aid for humans triaging fallback regions, not a gate.
 */

// Warning records one non-fatal degradation during reverse parsing.
// Every degradation path produces exactly one warning; nothing is swallowed.
type Warning struct {
	Line      int    `json:"line"`
	Construct string `json:"construct"`
	Reason    string `json:"reason"`
}

// DetectedPattern is one recognized higher-level business pattern.
type DetectedPattern struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ParseResult is the complete outcome of one reverse parse.
type ParseResult struct {
	IR               Action            `json:"ir"`
	Confidence       float64           `json:"confidence"`
	DetectedPatterns []DetectedPattern `json:"detected_patterns"`
	Warnings         []Warning         `json:"warnings"`
}

// ConfidenceBand classifies an overall confidence score.
type ConfidenceBand int

const (
	ConfidenceLow ConfidenceBand = iota
	ConfidenceMedium
	ConfidenceHigh
)

// Band thresholds for interpreting overall parse confidence.
const (
	HighConfidenceFloor   = 0.80
	MediumConfidenceFloor = 0.60
)

// Band returns the interpretation band for the result's confidence.
func (r ParseResult) Band() ConfidenceBand {
	switch {
	case r.Confidence >= HighConfidenceFloor:
		return ConfidenceHigh
	case r.Confidence >= MediumConfidenceFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// String returns the band's stable name.
func (b ConfidenceBand) String() string {
	switch b {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

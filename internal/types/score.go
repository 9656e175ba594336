package types

import "fmt"

// Band is the keep/retry/drop classification of a score
type Band string

const (
	BandKeep  Band = "keep"
	BandRetry Band = "retry"
	BandDrop  Band = "drop"
)

// Band thresholds. Boundaries are inclusive on the lower edge.
const (
	KeepThreshold  = 85.0
	RetryThreshold = 75.0
)

// IsValid checks if the band value is valid
func (b Band) IsValid() bool {
	switch b {
	case BandKeep, BandRetry, BandDrop:
		return true
	}
	return false
}

// ClassifyBand maps a 0-100 total to its band
func ClassifyBand(total float64) Band {
	switch {
	case total >= KeepThreshold:
		return BandKeep
	case total >= RetryThreshold:
		return BandRetry
	default:
		return BandDrop
	}
}

// Subscores holds the six rubric criteria, each a fraction in [0,1]
type Subscores struct {
	Hierarchy      float64 `json:"hierarchy"`
	Responsiveness float64 `json:"responsiveness"`
	CodeSafety     float64 `json:"code_safety"`
	Aesthetics     float64 `json:"aesthetics"`
	Contrast       float64 `json:"contrast"`
	Tokenization   float64 `json:"tokenization"`
}

// Score is the quality evaluation of one keeper record
type Score struct {
	RecordID      int64     `json:"record_id"`
	ContentHash   string    `json:"content_hash"` // Hash of the record bytes the score was computed for
	Subscores     Subscores `json:"subscores"`
	Total         float64   `json:"total"`
	Band          Band      `json:"band"`
	Attempts      int       `json:"attempts"`
	Remediated    bool      `json:"remediated"`
	Errors        []string  `json:"errors,omitempty"`
	RubricVersion string    `json:"rubric_version"`
}

// Validate checks if the score has valid field values
func (s *Score) Validate() error {
	if s.RecordID <= 0 {
		return fmt.Errorf("record_id must be positive (got %d)", s.RecordID)
	}
	if s.Total < 0 || s.Total > 100 {
		return fmt.Errorf("total must be between 0 and 100 (got %.2f)", s.Total)
	}
	if !s.Band.IsValid() {
		return fmt.Errorf("invalid band: %q", s.Band)
	}
	if s.Attempts < 1 || s.Attempts > 2 {
		return fmt.Errorf("attempts must be 1 or 2 (got %d)", s.Attempts)
	}
	return nil
}

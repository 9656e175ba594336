package types

import (
	"fmt"
	"strconv"
	"time"
)

// AuditReason is the reason a record is excluded from the catalog
type AuditReason string

const (
	ReasonDuplicateOf         AuditReason = "duplicate-of"
	ReasonScoreBelowThreshold AuditReason = "score-below-threshold"
)

// IsValid checks if the audit reason value is valid
func (r AuditReason) IsValid() bool {
	switch r {
	case ReasonDuplicateOf, ReasonScoreBelowThreshold:
		return true
	}
	return false
}

// AuditEntry records why a record did not make it into the catalog.
// Audit entries are append-only.
type AuditEntry struct {
	ID        int64       `json:"id"`
	RecordID  int64       `json:"record_id"`
	Reason    AuditReason `json:"reason"`
	KeeperID  int64       `json:"keeper_id,omitempty"` // Set for duplicate-of
	Total     float64     `json:"total,omitempty"`     // Set for score-below-threshold
	PassID    string      `json:"pass_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Detail returns the reason argument: the keeper id or the total
func (e *AuditEntry) Detail() string {
	if e.Reason == ReasonDuplicateOf {
		return strconv.FormatInt(e.KeeperID, 10)
	}
	return strconv.FormatFloat(e.Total, 'f', 2, 64)
}

// String renders the entry as "<reason> <detail>"
func (e *AuditEntry) String() string {
	return fmt.Sprintf("%s %s", e.Reason, e.Detail())
}

// Validate checks if the audit entry has valid field values
func (e *AuditEntry) Validate() error {
	if e.RecordID <= 0 {
		return fmt.Errorf("record_id must be positive (got %d)", e.RecordID)
	}
	if !e.Reason.IsValid() {
		return fmt.Errorf("invalid audit reason: %q", e.Reason)
	}
	if e.Reason == ReasonDuplicateOf && (e.KeeperID <= 0 || e.KeeperID == e.RecordID) {
		return fmt.Errorf("duplicate-of entry for %d needs a distinct keeper (got %d)", e.RecordID, e.KeeperID)
	}
	return nil
}

// AuditFilter is used to filter audit log queries
type AuditFilter struct {
	RecordID int64
	Reason   AuditReason
	PassID   string
	Limit    int
}

// CatalogEntry is the externally visible view of one record after a pass
type CatalogEntry struct {
	ID            int64         `json:"id"`
	SourceID      string        `json:"source_id"`
	URL           string        `json:"url"`
	License       string        `json:"license"`
	Type          ArtifactType  `json:"type"`
	ContentHash   string        `json:"content_hash"`
	ShingleDigest string        `json:"structure_shingle_digest"`
	QuickFeatures QuickFeatures `json:"quick_features"`
	ClusterID     int64         `json:"cluster_id"`
	IsKeeper      bool          `json:"is_keeper"`
	Score         *Score        `json:"score,omitempty"`
	Band          Band          `json:"band,omitempty"`
}

// CatalogFilter is used to filter catalog queries
type CatalogFilter struct {
	// IncludeAll returns every annotated record, including non-keepers and
	// dropped keepers. The default returns only kept entries.
	IncludeAll bool
	SourceID   string
	Category   string
}

// Share is a count and its percentage of the surviving set
type Share struct {
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// Gap is a representation band outside the configured target range
type Gap struct {
	Dimension string  `json:"dimension"` // "category" or "source"
	Key       string  `json:"key"`
	Pct       float64 `json:"pct"`
}

// String renders the gap as "dimension:key"
func (g Gap) String() string {
	return g.Dimension + ":" + g.Key
}

// BalanceReport describes category and source representation of the surviving set
type BalanceReport struct {
	Total            int              `json:"total"`
	Categories       map[string]Share `json:"category"`
	Sources          map[string]Share `json:"source"`
	Underrepresented []Gap            `json:"underrepresented"`
	Overrepresented  []Gap            `json:"overrepresented"`
	MinPct           float64          `json:"min_pct"`
	MaxPct           float64          `json:"max_pct"`
}

package types

import (
	"fmt"
	"strings"
	"time"
)

// ArtifactType identifies the markup dialect of a raw template file
type ArtifactType string

const (
	TypeHTML ArtifactType = "html"
	TypeMJML ArtifactType = "mjml"
)

// IsValid checks if the artifact type value is valid
func (t ArtifactType) IsValid() bool {
	switch t {
	case TypeHTML, TypeMJML:
		return true
	}
	return false
}

// Artifact is one raw template file plus the provenance supplied by the
// sourcing collaborator. It is the input to ingestion.
type Artifact struct {
	SourceID   string       `json:"source_id"`
	SourceName string       `json:"source_name"`
	URL        string       `json:"url"`
	License    string       `json:"license"`
	Type       ArtifactType `json:"type"`
	FilePath   string       `json:"file_path"`
	Content    []byte       `json:"-"`

	// RequestedID pins the record id (e.g. when replaying an exported log).
	// Zero lets the store mint the next id. A collision is never overwritten:
	// the store falls back to a freshly minted id.
	RequestedID int64 `json:"-"`
}

// Validate checks if the artifact metadata has valid field values
func (a *Artifact) Validate() error {
	if strings.TrimSpace(a.SourceID) == "" {
		return fmt.Errorf("source_id is required")
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid artifact type: %q (expected html or mjml)", a.Type)
	}
	if a.RequestedID < 0 {
		return fmt.Errorf("requested id cannot be negative (got %d)", a.RequestedID)
	}
	return nil
}

// QuickFeatures are cheap signals extracted at ingestion time
type QuickFeatures struct {
	TableCount       int      `json:"table_count"`
	HasMediaQueries  bool     `json:"has_media_queries"`
	SectionsDetected []string `json:"sections_detected,omitempty"`
	Categories       []string `json:"categories,omitempty"`
}

// PrimaryCategory returns the first category tag, or "Uncategorized"
func (f QuickFeatures) PrimaryCategory() string {
	if len(f.Categories) == 0 {
		return "Uncategorized"
	}
	return f.Categories[0]
}

// Record is one entry of the append-only record log. Records are created once
// at ingestion and never modified; cluster and score annotations live in
// derived views keyed by record id.
type Record struct {
	ID            int64         `json:"id"`
	SourceID      string        `json:"source_id"`
	SourceName    string        `json:"source_name"`
	URL           string        `json:"url"`
	License       string        `json:"license"`
	Type          ArtifactType  `json:"type"`
	FilePath      string        `json:"file_path"`
	ByteSize      int64         `json:"byte_size"`
	ContentHash   string        `json:"content_hash"`
	Shingles      []uint64      `json:"structure_shingles,omitempty"`
	Parsed        bool          `json:"parsed"`
	QuickFeatures QuickFeatures `json:"quick_features"`

	// DuplicateOf is the id of the earliest record with the same content hash
	// at insert time. Zero means the content was new when it was ingested.
	DuplicateOf int64     `json:"duplicate_of,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// IsExactDuplicate reports whether the record was tagged as an exact duplicate at ingestion
func (r *Record) IsExactDuplicate() bool {
	return r.DuplicateOf != 0
}

// Validate checks if the record has valid field values
func (r *Record) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("source_id is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid artifact type: %q", r.Type)
	}
	if len(r.ContentHash) != 64 {
		return fmt.Errorf("content_hash must be a 64-character sha256 hex digest (got %d characters)", len(r.ContentHash))
	}
	if r.ByteSize < 0 {
		return fmt.Errorf("byte_size cannot be negative (got %d)", r.ByteSize)
	}
	if !r.Parsed && len(r.Shingles) > 0 {
		return fmt.Errorf("unparsed record cannot carry structure shingles")
	}
	return nil
}

// RecordFilter is used to filter record queries
type RecordFilter struct {
	SourceID    string
	Type        ArtifactType
	ContentHash string
	MinID       int64 // Inclusive; zero means no lower bound
	MaxID       int64 // Inclusive; zero means no upper bound
	Limit       int
}

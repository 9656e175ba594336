package types

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifyBandBoundaries(t *testing.T) {
	tests := []struct {
		total float64
		want  Band
	}{
		{100, BandKeep},
		{85.0, BandKeep},
		{84.9, BandRetry},
		{84.99, BandRetry},
		{75.0, BandRetry},
		{74.9, BandDrop},
		{0, BandDrop},
	}

	for _, tt := range tests {
		if got := ClassifyBand(tt.total); got != tt.want {
			t.Errorf("ClassifyBand(%v) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestArtifactValidate(t *testing.T) {
	tests := []struct {
		name     string
		artifact Artifact
		wantErr  string
	}{
		{
			name:     "valid html",
			artifact: Artifact{SourceID: "foundation_emails", Type: TypeHTML},
		},
		{
			name:     "valid mjml",
			artifact: Artifact{SourceID: "mjml_templates", Type: TypeMJML},
		},
		{
			name:     "missing source",
			artifact: Artifact{SourceID: "  ", Type: TypeHTML},
			wantErr:  "source_id is required",
		},
		{
			name:     "unknown type",
			artifact: Artifact{SourceID: "s", Type: "pdf"},
			wantErr:  "invalid artifact type",
		},
		{
			name:     "negative requested id",
			artifact: Artifact{SourceID: "s", Type: TypeHTML, RequestedID: -1},
			wantErr:  "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.artifact.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecordValidateRejectsShinglesOnUnparsed(t *testing.T) {
	r := &Record{
		SourceID:    "s",
		Type:        TypeHTML,
		ContentHash: strings.Repeat("a", 64),
		Shingles:    []uint64{1, 2},
		Parsed:      false,
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for unparsed record with shingles")
	}
	r.Parsed = true
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestClusterValidate(t *testing.T) {
	c := &Cluster{ID: 1, Members: []int64{1, 2}, Keeper: 2, Kind: ClusterExact}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	c.Keeper = 3
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for keeper outside members")
	}
}

func TestAuditEntryString(t *testing.T) {
	dup := &AuditEntry{RecordID: 4, Reason: ReasonDuplicateOf, KeeperID: 2}
	if got := dup.String(); got != "duplicate-of 2" {
		t.Errorf("String() = %q, want %q", got, "duplicate-of 2")
	}
	low := &AuditEntry{RecordID: 5, Reason: ReasonScoreBelowThreshold, Total: 62.5}
	if got := low.String(); got != "score-below-threshold 62.50" {
		t.Errorf("String() = %q, want %q", got, "score-below-threshold 62.50")
	}
	self := &AuditEntry{RecordID: 4, Reason: ReasonDuplicateOf, KeeperID: 4}
	if err := self.Validate(); err == nil {
		t.Error("expected error for self-referencing duplicate entry")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &ClusterInconsistencyError{Orphans: []int64{7}}
	var ci *ClusterInconsistencyError
	if !errors.As(err, &ci) {
		t.Fatal("errors.As failed for ClusterInconsistencyError")
	}
	if !strings.Contains(err.Error(), "1 orphaned records [7]") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	rubric := &ScoringRubricError{Subscore: "contrast", Reason: "no color pairs"}
	if rubric.Error() != "subscore contrast not evaluable: no color pairs" {
		t.Errorf("unexpected message: %s", rubric.Error())
	}
}

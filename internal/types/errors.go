package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnparseable means the markup could not be tokenized. The artifact
	// still gets a content hash and takes part in exact-duplicate detection.
	ErrUnparseable = errors.New("unparseable artifact")

	// ErrDuplicateKey means a record id collided on insert
	ErrDuplicateKey = errors.New("duplicate record key")

	// ErrPassInProgress means another cluster recomputation is running
	ErrPassInProgress = errors.New("cluster pass already in progress")

	// ErrNotFound is returned by lookups that match nothing
	ErrNotFound = errors.New("not found")
)

// ScoringRubricError is returned by a subscore heuristic that cannot evaluate
// the fields it needs. The subscore defaults to 0 and scoring continues.
type ScoringRubricError struct {
	Subscore string
	Reason   string
}

func (e *ScoringRubricError) Error() string {
	return fmt.Sprintf("subscore %s not evaluable: %s", e.Subscore, e.Reason)
}

// ClusterInconsistencyError reports a violated partition post-condition.
// It is fatal for the pass and is never auto-corrected.
type ClusterInconsistencyError struct {
	PassID     string
	Orphans    []int64         // Records in no cluster
	Duplicated []int64         // Records in more than one cluster
	BadKeepers map[int64]int64 // Cluster id -> keeper that is not a member
}

func (e *ClusterInconsistencyError) Error() string {
	var parts []string
	if len(e.Orphans) > 0 {
		parts = append(parts, fmt.Sprintf("%d orphaned records %v", len(e.Orphans), e.Orphans))
	}
	if len(e.Duplicated) > 0 {
		parts = append(parts, fmt.Sprintf("%d records in multiple clusters %v", len(e.Duplicated), e.Duplicated))
	}
	if len(e.BadKeepers) > 0 {
		parts = append(parts, fmt.Sprintf("%d clusters with non-member keepers", len(e.BadKeepers)))
	}
	if len(parts) == 0 {
		parts = append(parts, "unspecified")
	}
	return "cluster inconsistency: " + strings.Join(parts, "; ")
}

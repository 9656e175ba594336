package types

import (
	"fmt"
	"time"
)

// ClusterKind describes how a cluster's members came together
type ClusterKind string

const (
	ClusterSingleton ClusterKind = "singleton" // One member
	ClusterExact     ClusterKind = "exact"     // All members share one content hash
	ClusterNear      ClusterKind = "near"      // At least two distinct content hashes merged by similarity
)

// IsValid checks if the cluster kind value is valid
func (k ClusterKind) IsValid() bool {
	switch k {
	case ClusterSingleton, ClusterExact, ClusterNear:
		return true
	}
	return false
}

// Cluster is a derived group of duplicate records with one keeper.
// Clusters are recomputed from scratch on every pass and are never
// authoritative over the record log.
type Cluster struct {
	ID      int64       `json:"cluster_id"` // Smallest member id
	Members []int64     `json:"members"`    // Sorted ascending
	Keeper  int64       `json:"keeper"`
	Kind    ClusterKind `json:"kind"`
	PassID  string      `json:"pass_id,omitempty"`
}

// HasMember reports whether id belongs to the cluster
func (c *Cluster) HasMember(id int64) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Validate checks the local cluster invariants
func (c *Cluster) Validate() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("cluster %d has no members", c.ID)
	}
	if !c.HasMember(c.Keeper) {
		return fmt.Errorf("cluster %d keeper %d is not a member", c.ID, c.Keeper)
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("cluster %d has invalid kind: %q", c.ID, c.Kind)
	}
	return nil
}

// PassStatus represents the state of a curation pass
type PassStatus string

const (
	PassRunning   PassStatus = "running"
	PassCompleted PassStatus = "completed"
	PassFailed    PassStatus = "failed"
)

// Pass is one batch run of clustering and scoring over a record snapshot
type Pass struct {
	ID           string     `json:"id"`
	Status       PassStatus `json:"status"`
	Threshold    float64    `json:"threshold"`
	RecordCount  int        `json:"record_count"`
	ClusterCount int        `json:"cluster_count"`
	Kept         int        `json:"kept"`
	Dropped      int        `json:"dropped"`
	Duplicates   int        `json:"duplicates"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

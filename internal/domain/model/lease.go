// Package model contains domain models passed between layers.
package model

import "time"

// GlobalLeaseKey is the fixed document key of the deployment-wide lease.
const GlobalLeaseKey = "global"

// Lease is the single mutual-exclusion record guarding bulk evaluation runs.
// At most one Lease is locked at any time.
type Lease struct {
	IsLocked     bool      `json:"isLocked"`
	LockedBy     string    `json:"lockedBy,omitempty"`     // competition id
	LockedByUser string    `json:"lockedByUser,omitempty"` // user who started the run
	LockedAt     time.Time `json:"lockedAt,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	RunID        string    `json:"runId,omitempty"`
}

// Owner identifies the holder of a lease.
type Owner struct {
	CompetitionID string
	RunID         string
}

// HeldBy reports whether the lease is locked by owner. The run id only takes
// part in the comparison when both sides carry one.
func (l Lease) HeldBy(owner Owner) bool {
	if !l.IsLocked || l.LockedBy != owner.CompetitionID {
		return false
	}
	if l.RunID != "" && owner.RunID != "" {
		return l.RunID == owner.RunID
	}
	return true
}

// StaleAt reports whether a locked lease has outlived staleAfter at now.
func (l Lease) StaleAt(now time.Time, staleAfter time.Duration) bool {
	return l.IsLocked && now.Sub(l.LockedAt) > staleAfter
}

/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package ingest decides what to do with a freshly fetched issue snapshot and
// carries the decision out against the stores.
package ingest

import "github.com/linuxautomates/gitsei-sub041/internal/domain"

// IsReprocessingNeeded reports whether a stored issue was processed under an
// older configuration than current. A missing issue or version always needs
// processing.
func IsReprocessingNeeded(stored *domain.StoredIssue, current int64) bool {
	if stored == nil || stored.ConfigVersion == nil {
		return true
	}
	return *stored.ConfigVersion < current
}

// Verdict is the pure outcome of comparing a snapshot with its stored copy.
type Verdict struct {
	ShouldInsert         bool
	TodayIssueIsNew      bool
	ActuallyNewOrUpdated bool
	NeedsReprocessing    bool
	// ConfigVersion is what the new revision is stored with.
	ConfigVersion int64
}

// Decide applies the insert rules. stored is the revision already kept for
// the snapshot's ingestion bucket, nil when there is none. force re-inserts
// an unchanged issue.
func Decide(stored *domain.StoredIssue, snap domain.IssueSnapshot, snapshottingDisabled bool, current int64, force bool) Verdict {
	v := Verdict{ConfigVersion: current}
	if stored == nil {
		v.TodayIssueIsNew = true
		v.ActuallyNewOrUpdated = true
		v.ShouldInsert = true
		return v
	}
	if stored.ConfigVersion != nil && *stored.ConfigVersion > current {
		v.ConfigVersion = *stored.ConfigVersion
	}
	v.ActuallyNewOrUpdated = stored.IssueUpdatedAt.Before(snap.UpdatedAt)
	v.NeedsReprocessing = snapshottingDisabled && IsReprocessingNeeded(stored, current)
	v.ShouldInsert = v.ActuallyNewOrUpdated || v.NeedsReprocessing || force
	return v
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/ident"
)

// Detect compares local and remote views of one case. It returns nil when
// they describe different entities or do not diverge.
func (r *Resolver) Detect(local, remote Snapshot) *Conflict {
	if !r.sameEntity(local.CaseID, remote.CaseID) {
		return nil
	}
	sim := Similarity(local, remote)
	if sim >= 1 {
		return nil
	}

	c := &Conflict{
		ID:           ulid.Make().String(),
		Similarity:   sim,
		OperationIDs: append([]string(nil), local.PendingOps...),
		Local:        local.clone(),
		Remote:       remote.clone(),
		DetectedAt:   time.Now(),
	}
	switch {
	case ident.IsProvisional(local.CaseID) && ident.IsConfirmed(remote.CaseID):
		c.Type = TypeIDReconciliation
		c.Severity = SeverityMedium
	case len(local.PendingOps) >= 2:
		c.Type = TypeConcurrentOperations
		c.Severity = SeverityHigh
	case local.Origin != "" && remote.Origin != "" && local.Origin != remote.Origin:
		c.Type = TypeCrossTab
		c.Severity = SeverityMedium
	case sim < r.similarityThreshold:
		c.Type = TypeDataSync
		c.Severity = dataSyncSeverity(sim)
	default:
		return nil
	}
	r.logger.Info("conflict detected", "id", c.ID, "type", c.Type, "severity", c.Severity,
		"case", remote.CaseID, "similarity", sim)
	return c
}

func (r *Resolver) sameEntity(local, remote string) bool {
	if local == remote {
		return local != ""
	}
	if r.mappings == nil || !ident.IsProvisional(local) {
		return false
	}
	c, ok := r.mappings.ConfirmedID(local)
	return ok && c == remote
}

func dataSyncSeverity(sim float64) Severity {
	switch {
	case sim < 0.3:
		return SeverityHigh
	case sim < 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Similarity is the Jaccard index of the two snapshots' title, status and
// settled conversation content. Identical snapshots score 1.
func Similarity(a, b Snapshot) float64 {
	fa, fb := fingerprints(a), fingerprints(b)
	if len(fa) == 0 && len(fb) == 0 {
		return 1
	}
	inter := 0
	for k := range fa {
		if fb[k] {
			inter++
		}
	}
	union := len(fa) + len(fb) - inter
	return float64(inter) / float64(union)
}

func fingerprints(s Snapshot) map[string]bool {
	out := make(map[string]bool, len(s.Items)+2)
	out["title:"+s.Title] = true
	if s.Status != "" {
		out["status:"+s.Status] = true
	}
	for _, it := range s.Items {
		if fp, ok := itemFingerprint(it); ok {
			out[fp] = true
		}
	}
	return out
}

// itemFingerprint identifies an item by content rather than id, since the
// two sides use different ids for the same message. Replies still loading
// carry no content and are ignored.
func itemFingerprint(it cases.ConversationItem) (string, bool) {
	if it.Loading && it.Response == nil && it.Question == nil {
		return "", false
	}
	return it.Role() + ":" + it.Text(), true
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package conflict

// Strategy proposes a merge for a conflict. It receives a private copy and
// must not touch engine state.
type Strategy interface {
	Merge(c *Conflict) (MergeResult, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(c *Conflict) (MergeResult, error)

// Merge calls f.
func (f StrategyFunc) Merge(c *Conflict) (MergeResult, error) { return f(c) }

// FieldMerge returns a strategy built on MergeFields with a fixed base
// confidence.
func FieldMerge(confidence float64) Strategy {
	return StrategyFunc(func(c *Conflict) (MergeResult, error) {
		res := MergeFields(c.Local, c.Remote)
		res.Confidence = confidence
		if len(res.Unresolved) > 0 {
			res.Confidence /= 2
		}
		return res, nil
	})
}

func defaultStrategies() map[Type]Strategy {
	return map[Type]Strategy{
		TypeIDReconciliation: FieldMerge(1.0),
		TypeDataSync:         FieldMerge(0.9),
		// Another context edited the same case; the merge is offered but a
		// person confirms it.
		TypeCrossTab: FieldMerge(0.6),
	}
}

// MergeFields merges two snapshots field by field:
//
//   - status: the server wins.
//   - title: the local title wins if it was edited after the remote
//     snapshot, otherwise the server's canonical title wins.
//   - items: the remote list is kept; local items missing from it that were
//     written after the remote snapshot are appended. Older local items the
//     server does not have are reported as unresolved.
//
// The remote id is always kept.
func MergeFields(local, remote Snapshot) MergeResult {
	merged := remote.clone()
	merged.PendingOps = append([]string(nil), local.PendingOps...)
	var res MergeResult

	if remote.Status != "" {
		res.Decisions = append(res.Decisions, FieldDecision{Field: "status", Winner: SideRemote, Reason: "server wins on status"})
	} else {
		merged.Status = local.Status
		res.Decisions = append(res.Decisions, FieldDecision{Field: "status", Winner: SideLocal, Reason: "server reported no status"})
	}

	if local.Title != remote.Title && !local.TitleEditedAt.IsZero() && local.TitleEditedAt.After(remote.UpdatedAt) {
		merged.Title = local.Title
		merged.TitleEditedAt = local.TitleEditedAt
		res.Decisions = append(res.Decisions, FieldDecision{Field: "title", Winner: SideLocal, Reason: "edited after the last server snapshot"})
	} else {
		res.Decisions = append(res.Decisions, FieldDecision{Field: "title", Winner: SideRemote, Reason: "server wins on canonical title"})
	}

	remoteContent := make(map[string]bool, len(remote.Items))
	for _, it := range remote.Items {
		if fp, ok := itemFingerprint(it); ok {
			remoteContent[fp] = true
		}
	}
	for _, it := range local.Items {
		fp, ok := itemFingerprint(it)
		if !ok || remoteContent[fp] {
			continue
		}
		field := "items/" + it.ID
		if it.Timestamp.After(remote.UpdatedAt) {
			merged.Items = append(merged.Items, it)
			res.Decisions = append(res.Decisions, FieldDecision{Field: field, Winner: SideLocal, Reason: "typed after the last server snapshot"})
			continue
		}
		res.Unresolved = append(res.Unresolved, field)
	}

	res.Merged = merged
	return res
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Match reports whether eventType matches pattern.
//   - "case.*" matches "case.created", "case.reconciled", ...
//   - "*.failed" matches "operation.failed", "recovery.failed", ...
//   - "*" matches everything
func Match(eventType, pattern string) bool {
	if pattern == "" || eventType == "" {
		return false
	}
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(eventType, "."+suffix)
	}
	return false
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty pattern")
	}
	if strings.Count(pattern, "*") > 1 {
		return errors.New("pattern may contain at most one wildcard")
	}
	return nil
}

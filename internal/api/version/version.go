// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version implements Stripe-style API versioning for the casesync API.
//
// Versioning uses date-based versions (e.g., "2026-01-17") sent via the
// Casesync-Version header. When no header is provided, the latest version
// is used.
//
// When making breaking changes:
//  1. Create a new version constant with today's date
//  2. Update LatestVersion to the new version
//  3. Add a transformer in transformer.go for the old version
//
// Example:
//
//	const Version20261201 = "2026-12-01"  // New version
//	var LatestVersion = Version20261201
//
// Then add a transformer to convert new responses back to old format
// for clients pinned to older versions.
package version

import "context"

// Version constants. Add new versions here when making breaking changes.
const (
	// Version20260901 is the initial API version.
	Version20260901 = "2026-09-01"
	// Version20261015 adds the user-facing "error" object to pending
	// operations.
	Version20261015 = "2026-10-15"
)

// LatestVersion is the current default API version.
// Update this when adding a new version.
var LatestVersion = Version20261015

// Header is the HTTP header used to specify the API version.
const Header = "Casesync-Version"

// contextKey is the type used for context keys in this package.
type contextKey string

// versionKey is the context key for storing the API version.
const versionKey contextKey = "api-version"

// FromContext returns the API version from the context.
// Returns LatestVersion if not set.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext returns a new context with the API version set.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}

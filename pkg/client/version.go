// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

// API version constants.
//
// casesync uses date-based API versioning. Each version represents the API
// as it existed on that date. When making a request, the client sends the
// version via the Casesync-Version header.
const (
	// LatestVersion is the current API version.
	LatestVersion = "2026-10-15"

	// Version20261015 adds the "error" object to operations.
	Version20261015 = "2026-10-15"

	// Version20260901 is the initial API version.
	Version20260901 = "2026-09-01"
)

// VersionHeader is the HTTP header used to specify the API version.
const VersionHeader = "Casesync-Version"

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import "encoding/json"

// Transformer is a function that transforms response data for a specific
// API version. It receives the current response data and returns the
// transformed data appropriate for the requested version.
//
// Transformers are used to maintain backwards compatibility when making
// breaking changes. For example, if a field is renamed from "State" to
// "Phase", a transformer for the old version would map "Phase" back to
// "State" so old clients continue working.
type Transformer func(data interface{}) interface{}

// transformers maps versions to endpoint-specific transformers.
// Format: version -> endpoint -> transformer function
var transformers = map[string]map[string]Transformer{}

func init() {
	// 2026-09-01 clients predate the "error" object on operations.
	RegisterTransformer(Version20260901, "operations.list", dropField("error"))
	RegisterTransformer(Version20260901, "operations.get", dropField("error"))
}

// dropField returns a transformer that removes a top-level field from an
// object, or from every object in a list. The data is round-tripped through
// JSON so it works on any struct with json tags.
func dropField(field string) Transformer {
	return func(data interface{}) interface{} {
		raw, err := json.Marshal(data)
		if err != nil {
			return data
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return data
		}
		switch v := generic.(type) {
		case map[string]interface{}:
			delete(v, field)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					delete(m, field)
				}
			}
		}
		return generic
	}
}

// Transform applies version-specific transformations to response data.
// If no transformer exists for the version/endpoint combination, the
// data is returned unchanged.
//
// Parameters:
//   - version: The API version from the request (e.g., "2026-09-01")
//   - endpoint: The endpoint identifier (e.g., "cases.get", "operations.list")
//   - data: The response data to potentially transform
//
// Returns the transformed data.
func Transform(version, endpoint string, data interface{}) interface{} {
	if version == LatestVersion {
		// No transformation needed for latest version
		return data
	}

	versionTransformers, ok := transformers[version]
	if !ok {
		// Unknown version, return data unchanged
		return data
	}

	transformer, ok := versionTransformers[endpoint]
	if !ok {
		// No transformer for this endpoint in this version
		return data
	}

	return transformer(data)
}

// RegisterTransformer adds a transformer for a specific version and endpoint.
// This is typically called during init() to register transformers.
//
// Example:
//
//	func init() {
//	    RegisterTransformer("2026-09-01", "cases.get", transformCaseV20260901)
//	}
func RegisterTransformer(version, endpoint string, t Transformer) {
	if transformers[version] == nil {
		transformers[version] = make(map[string]Transformer)
	}
	transformers[version][endpoint] = t
}

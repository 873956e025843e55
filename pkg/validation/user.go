// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"regexp"
)

// userIDPattern matches identifiers we are willing to interpolate into
// store keys. Allows: letters, digits, dots, underscores, hyphens.
// Max length: 128 characters (UUIDs are 36; external IDs get headroom).
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateUserID validates a user identifier before it is used to build
// a store key.
//
// Valid IDs:
//   - 1-128 characters
//   - Letters A-Z a-z, digits 0-9
//   - Dots (.), underscores (_), hyphens (-) after the first character
//
// Generated IDs are UUIDv4 and always pass. The point of the allowlist
// is rejecting path segments that would produce malformed keys
// (control characters, whitespace, separator bytes) before they reach
// the store.
//
// Returns an error if the ID is invalid.
//
// Example:
//
//	if err := validation.ValidateUserID(id); err != nil {
//	    // Treat as not found; such a key cannot exist
//	}
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id format: %q (must be 1-128 alphanumeric chars, dots, underscores, or hyphens)", id)
	}

	return nil
}

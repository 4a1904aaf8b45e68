// Package config resolves, parses, validates, and defaults the controller's
// runtime configuration.
package config

import (
	"fmt"
	"strings"
)

// Parse reads configuration content as JSONC.
//
// Empty content yields base, validated. Non-empty content must begin (after
// leading whitespace) with '{'.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		validatedWarnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, validatedWarnings, nil
	}

	if !strings.HasPrefix(trimmed, "{") {
		return Config{}, nil, fmt.Errorf("config content must be JSONC, starting with '{'")
	}

	return parseJSONC(content, base)
}

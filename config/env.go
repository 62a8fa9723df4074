package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvString reads a string variable, reporting whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer variable. The error is non-nil only when the
// variable is set but does not parse.
func EnvInt(key string) (int, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return value, true, nil
}

// EnvBool reads a boolean variable. The error is non-nil only when the
// variable is set but does not parse.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return value, true, nil
}

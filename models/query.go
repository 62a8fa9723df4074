package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery marks user input that cannot be turned into a query.
var ErrInvalidQuery = errors.New("invalid query")

// QueryMode selects between scanning a catalogue category and free-text search.
type QueryMode string

const (
	ModeCategory QueryMode = "category"
	ModeKeyword  QueryMode = "keyword"
)

// ParseMode converts a user-supplied mode string into a QueryMode.
func ParseMode(s string) (QueryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "category", "1":
		return ModeCategory, nil
	case "keyword", "search", "2":
		return ModeKeyword, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, s)
	}
}

// Query is the immutable input of one scrape run.
type Query struct {
	Mode  QueryMode
	Value string
}

// NewQuery validates the user input and builds a Query. It is a pure
// mapping: no I/O happens here, category lookup comes later.
func NewQuery(mode QueryMode, value string) (Query, error) {
	if mode != ModeCategory && mode != ModeKeyword {
		return Query{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, mode)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Query{}, fmt.Errorf("%w: empty value", ErrInvalidQuery)
	}
	return Query{Mode: mode, Value: value}, nil
}

// Category is one resolvable node of the marketplace catalogue. Shard and
// Filter parameterize the catalog listing endpoint for that node.
type Category struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Shard  string `json:"shard"`
	Filter string `json:"query"`
}

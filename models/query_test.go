package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    QueryMode
		wantErr bool
	}{
		{input: "category", want: ModeCategory},
		{input: "Keyword", want: ModeKeyword},
		{input: "search", want: ModeKeyword},
		{input: "1", want: ModeCategory},
		{input: "2", want: ModeKeyword},
		{input: "  keyword ", want: ModeKeyword},
		{input: "", wantErr: true},
		{input: "both", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Fatalf("error %v should wrap ErrInvalidQuery", err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewQuery(t *testing.T) {
	tests := []struct {
		name    string
		mode    QueryMode
		value   string
		wantErr bool
	}{
		{name: "keyword", mode: ModeKeyword, value: "детская книга"},
		{name: "category", mode: ModeCategory, value: "Художественная литература"},
		{name: "trims value", mode: ModeKeyword, value: "  phone case  "},
		{name: "empty value", mode: ModeKeyword, value: "", wantErr: true},
		{name: "blank value", mode: ModeCategory, value: "   ", wantErr: true},
		{name: "bad mode", mode: QueryMode("mixed"), value: "books", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuery(tt.mode, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Fatalf("error %v should wrap ErrInvalidQuery", err)
				}
				return
			}
			if q.Mode != tt.mode {
				t.Fatalf("mode = %q, want %q", q.Mode, tt.mode)
			}
			if q.Value != strings.TrimSpace(tt.value) {
				t.Fatalf("value = %q, want trimmed %q", q.Value, tt.value)
			}
		})
	}
}

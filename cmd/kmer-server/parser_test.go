package main

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"inline", "QUERY q1 ACGT\r\n", []string{"QUERY", "q1", "ACGT"}},
		{"inline extra spaces", "  HITS   5 \n", []string{"HITS", "5"}},
		{"array", "*2\r\n$4\r\nHITS\r\n$1\r\n5\r\n", []string{"HITS", "5"}},
		{"empty array", "*0\r\n", []string{}},
		{"null bulk", "*2\r\n$4\r\nSAVE\r\n$-1\r\n", []string{"SAVE", ""}},
		{"bulk with spaces", "*2\r\n$5\r\nQUERY\r\n$5\r\na b c\r\n", []string{"QUERY", "a b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParser(strings.NewReader(tt.input)).Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty line", "\r\n", ErrInvalidSyntax},
		{"bad array length", "*x\r\n", ErrInvalidSyntax},
		{"array too long", "*2000\r\n", ErrArrayTooLong},
		{"missing bulk marker", "*1\r\nPING\r\n", ErrInvalidSyntax},
		{"negative bulk", "*1\r\n$-2\r\n", ErrInvalidSyntax},
		{"bulk too large", "*1\r\n$999999999999\r\n", ErrBulkTooLarge},
		{"bad bulk terminator", "*1\r\n$4\r\nPINGxx", ErrInvalidSyntax},
		{"line too long", strings.Repeat("A", MaxLineSize+10) + "\r\n", ErrLineTooLong},
		{"truncated bulk", "*1\r\n$10\r\nPING", io.ErrUnexpectedEOF},
		{"nothing", "", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(strings.NewReader(tt.input)).Parse()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

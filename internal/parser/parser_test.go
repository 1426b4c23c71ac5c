package parser

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		expectedCards int
		expectedFront string
		expectedBack  string
		expectedC     string
	}{
		{
			name:          "Simple Q&A",
			input:         "Q: What is the capital of France?\nA: Paris",
			expectedCards: 1,
			expectedFront: "What is the capital of France?",
			expectedBack:  "Paris",
		},
		{
			name:          "Simple Q, A, and C",
			input:         "Q: What is 1+1?\nA: 2\nC: Basic arithmetic",
			expectedCards: 1,
			expectedFront: "What is 1+1?",
			expectedBack:  "2",
			expectedC:     "Basic arithmetic",
		},
		{
			name: "Multiline Answer",
			input: `
Q: What are the primary colors?
A: Red
Blue
Yellow
`,
			expectedCards: 1,
			expectedFront: "What are the primary colors?",
			expectedBack:  "Red\nBlue\nYellow",
		},
		{
			name: "Two Cards",
			input: `
Q: First question
A: First answer

Q: Second question
A: Second answer
`,
			expectedCards: 2,
		},
		{
			name: "Separator ends a card",
			input: `Q: One
A: 1
---
stray text
Q: Two
A: 2`,
			expectedCards: 2,
		},
		{
			name:          "No cards, just text",
			input:         "This is a file with no questions.",
			expectedCards: 0,
		},
		{
			name:          "Answer without question is dropped",
			input:         "A: orphan answer",
			expectedCards: 0,
		},
		{
			name:          "Prefixes with no space",
			input:         "Q:Question\nA:Answer",
			expectedCards: 1,
			expectedFront: "Question",
			expectedBack:  "Answer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}
			if len(entries) != tc.expectedCards {
				t.Fatalf("Expected %d cards, but got %d", tc.expectedCards, len(entries))
			}
			if tc.expectedCards != 1 {
				return
			}
			e := entries[0]
			if e.Front != tc.expectedFront {
				t.Errorf("Front = %q, want %q", e.Front, tc.expectedFront)
			}
			if e.Back != tc.expectedBack {
				t.Errorf("Back = %q, want %q", e.Back, tc.expectedBack)
			}
			if e.Context != tc.expectedC {
				t.Errorf("Context = %q, want %q", e.Context, tc.expectedC)
			}
		})
	}
}

func TestParse_TrailingBlankLines(t *testing.T) {
	entries, err := Parse(strings.NewReader("Q: First\nA: One\n\n\nQ: Second\nA: Two\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Back != "One" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/notes/go.md", []byte("Q: Go?\nA: Yes"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(fs, "/notes/go.md")
	if err != nil {
		t.Fatalf("ParseFile() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Front != "Go?" {
		t.Errorf("entries = %+v", entries)
	}
	if _, err := ParseFile(fs, "/notes/missing.md"); err == nil {
		t.Error("expected error for missing file")
	}
}

package templating

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/mesolimbo/igg/pkg/markov"
)

func TestComposeRow(t *testing.T) {
	testCases := []struct {
		name     string
		phrases  []string
		template string
		expected string
	}{
		{
			name:     "basic substitution",
			phrases:  []string{"fast", "remote"},
			template: "A $1 for $2 people",
			expected: "A fast for remote people",
		},
		{
			name:     "repeated placeholder",
			phrases:  []string{"x"},
			template: "$1 and $1 again",
			expected: "x and x again",
		},
		{
			name:     "out of range left verbatim",
			phrases:  []string{"only"},
			template: "$1 with $2",
			expected: "only with $2",
		},
		{
			name:     "zero is out of range",
			phrases:  []string{"a"},
			template: "$0 then $1",
			expected: "$0 then a",
		},
		{
			name:     "multi-digit placeholder is one reference",
			phrases:  []string{"a", "b"},
			template: "see $12",
			expected: "see $12",
		},
		{
			name:     "empty template joins with spaces",
			phrases:  []string{"alpha", "beta"},
			template: "",
			expected: "alpha beta",
		},
		{
			name:     "phrase content is not rescanned",
			phrases:  []string{"$2", "safe"},
			template: "$1 $2",
			expected: "$2 safe",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComposeRow(tc.phrases, tc.template, nil); got != tc.expected {
				t.Errorf("ComposeRow() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestComposeRowEscape(t *testing.T) {
	got := ComposeRow([]string{"<b>bold</b>"}, "<li>$1</li>", HTMLEscape)
	want := "<li>&lt;b&gt;bold&lt;/b&gt;</li>"
	if got != want {
		t.Errorf("ComposeRow() = %q, want %q", got, want)
	}
}

func TestHasPlaceholders(t *testing.T) {
	if !HasPlaceholders("a $1 thing") {
		t.Error("HasPlaceholders() = false for a template with $1")
	}
	if HasPlaceholders("just money $ signs") {
		t.Error("HasPlaceholders() = true for a bare dollar sign")
	}
}

func TestCSVRow(t *testing.T) {
	got := CSVRow([]string{"plain", `with "quotes"`})
	want := `"plain","with ""quotes"""`
	if got != want {
		t.Errorf("CSVRow() = %q, want %q", got, want)
	}
}

// testColumnModels builds two tiny single-path models so every generated
// phrase is predictable enough to assert on.
func testColumnModels() []*markov.Model {
	first := &markov.Model{
		ColumnIndex: 0,
		Transitions: map[string]map[string]float64{"solar": {"lantern": 1.0}},
		StartWords:  map[string]float64{"solar": 1.0},
		EndWords:    map[string]float64{"lantern": 1.0},
		Lengths:     markov.LengthTable{2: 1.0},
	}
	second := &markov.Model{
		ColumnIndex: 1,
		Transitions: map[string]map[string]float64{"for": {"campers": 1.0}},
		StartWords:  map[string]float64{"for": 1.0},
		EndWords:    map[string]float64{"campers": 1.0},
		Lengths:     markov.LengthTable{2: 1.0},
	}
	return []*markov.Model{first, second}
}

func TestGenerateRows(t *testing.T) {
	gen := markov.NewGenerator(markov.WithSource(rand.NewPCG(17, 29)))
	composer := NewComposer(nil, gen)

	rows, err := composer.GenerateRows(testColumnModels(), "a $1 $2", 10)
	if err != nil {
		t.Fatalf("GenerateRows() error = %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("GenerateRows() got %d rows, want 10", len(rows))
	}
	for _, row := range rows {
		if !strings.HasPrefix(row, "a ") {
			t.Errorf("row %q lost the template text", row)
		}
		if strings.Contains(row, "$") {
			t.Errorf("row %q contains an unsubstituted placeholder", row)
		}
	}
}

func TestGenerateRowsDefaultJoin(t *testing.T) {
	gen := markov.NewGenerator(markov.WithSource(rand.NewPCG(3, 5)))
	composer := NewComposer(nil, gen)

	rows, err := composer.GenerateRows(testColumnModels(), "", 3)
	if err != nil {
		t.Fatalf("GenerateRows() error = %v", err)
	}
	for _, row := range rows {
		// Each column contributes at least its start and end token.
		if len(strings.Fields(row)) < 4 {
			t.Errorf("row %q is missing column phrases", row)
		}
	}
}

func TestGenerateRowsValidation(t *testing.T) {
	gen := markov.NewGenerator()
	composer := NewComposer(nil, gen)
	models := testColumnModels()

	testCases := []struct {
		name     string
		models   []*markov.Model
		template string
		count    int
	}{
		{name: "zero count", models: models, template: "$1", count: 0},
		{name: "negative count", models: models, template: "$1", count: -2},
		{name: "no models", models: nil, template: "$1", count: 1},
		{name: "template without placeholders", models: models, template: "static text", count: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := composer.GenerateRows(tc.models, tc.template, tc.count); err == nil {
				t.Error("GenerateRows() expected an error but got none")
			}
		})
	}
}

func TestGenerateRowsInvalidModel(t *testing.T) {
	gen := markov.NewGenerator()
	composer := NewComposer(nil, gen)

	broken := &markov.Model{
		Transitions: map[string]map[string]float64{},
		StartWords:  map[string]float64{},
		EndWords:    map[string]float64{"x": 1.0},
		Lengths:     markov.LengthTable{2: 1.0},
	}
	if _, err := composer.GenerateRows([]*markov.Model{broken}, "", 1); err == nil {
		t.Error("GenerateRows() expected an error for a model with no start words")
	}
}

func TestComposerWithEscape(t *testing.T) {
	gen := markov.NewGenerator(markov.WithSource(rand.NewPCG(7, 7)))
	composer := NewComposer(nil, gen, WithEscape(func(s string) string {
		return strings.ToUpper(s)
	}))

	rows, err := composer.GenerateRows(testColumnModels(), "$1 / $2", 1)
	if err != nil {
		t.Fatalf("GenerateRows() error = %v", err)
	}
	if rows[0] != strings.ToUpper(rows[0]) {
		t.Errorf("row %q was not escaped", rows[0])
	}
}

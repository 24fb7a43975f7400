package markov

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestPreprocessText(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain text", input: "solar powered lantern", expected: "solar powered lantern"},
		{name: "punctuation stripped", input: "self-cleaning, waterproof!", expected: "selfcleaning waterproof"},
		{name: "whitespace collapsed", input: "  a \t lot   of\nspace  ", expected: "a lot of space"},
		{name: "digits kept", input: "mark 2 prototype", expected: "mark 2 prototype"},
		{name: "only punctuation", input: "?!...", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := preprocessText(tc.input); got != tc.expected {
				t.Errorf("preprocessText(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestTrainPhrases(t *testing.T) {
	m := TrainPhrases([]string{
		"red fish swims",
		"red bird sings",
	})

	if got := m.StartWords["red"]; got != 1.0 {
		t.Errorf("start weight for %q = %v, want 1.0", "red", got)
	}
	if m.EndWords["swims"] != 0.5 || m.EndWords["sings"] != 0.5 {
		t.Errorf("end words = %v, want swims and sings at 0.5 each", m.EndWords)
	}
	if m.Transitions["red"]["fish"] != 0.5 || m.Transitions["red"]["bird"] != 0.5 {
		t.Errorf("transitions from %q = %v, want fish and bird at 0.5 each", "red", m.Transitions["red"])
	}
	if m.Lengths[3] != 1.0 {
		t.Errorf("lengths = %v, want all mass on 3", m.Lengths)
	}
	if m.MaxLength() != 3 {
		t.Errorf("MaxLength() = %d, want 3", m.MaxLength())
	}
}

func TestTrainPhrasesNormalization(t *testing.T) {
	m := TrainPhrases([]string{
		"a b",
		"a c",
		"a b",
	})

	var total float64
	for _, w := range m.Transitions["a"] {
		total += w
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("transition weights from %q sum to %v, want 1.0", "a", total)
	}

	total = 0
	for _, w := range m.Lengths {
		total += w
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("length weights sum to %v, want 1.0", total)
	}
}

func TestTrainColumns(t *testing.T) {
	csvData := strings.Join([]string{
		`smart mug,for gamers`,
		`folding desk,for travelers`,
		`smart lamp,`,
	}, "\n")

	models, err := TrainColumns(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("TrainColumns() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("TrainColumns() got %d models, want 2", len(models))
	}

	for i, m := range models {
		if m.ColumnIndex != i {
			t.Errorf("model %d has ColumnIndex %d", i, m.ColumnIndex)
		}
	}

	// Column 0 saw three phrases, column 1 only two: the empty cell is skipped.
	if models[0].Lengths[2] != 1.0 {
		t.Errorf("column 0 lengths = %v, want all mass on 2", models[0].Lengths)
	}
	if got := models[1].StartWords["for"]; got != 1.0 {
		t.Errorf("column 1 start weight for %q = %v, want 1.0", "for", got)
	}

	vocab, err := models[0].Vocabulary()
	if err != nil {
		t.Fatalf("Vocabulary() error = %v", err)
	}
	want := []string{"desk", "folding", "lamp", "mug", "smart"}
	if !reflect.DeepEqual(vocab, want) {
		t.Errorf("column 0 vocabulary = %v, want %v", vocab, want)
	}
}

func TestTrainColumnsRaggedRows(t *testing.T) {
	csvData := "one two\nthree four,five six\n"

	models, err := TrainColumns(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("TrainColumns() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("TrainColumns() got %d models, want 2", len(models))
	}
	if !models[1].IsEndWord("six") {
		t.Errorf("column 1 end words = %v, want %q included", models[1].EndWords, "six")
	}
}

func TestTrainColumnsEmpty(t *testing.T) {
	if _, err := TrainColumns(strings.NewReader("")); err == nil {
		t.Error("TrainColumns() expected an error for empty input")
	}
}

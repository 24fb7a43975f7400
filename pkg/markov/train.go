package markov

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	// nonAlnumPattern matches everything except letters, digits, and
	// whitespace; those characters are stripped before tokenizing.
	nonAlnumPattern = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// preprocessText normalizes one training phrase: strips non-alphanumeric
// characters, collapses whitespace runs to single spaces, and trims.
func preprocessText(text string) string {
	text = nonAlnumPattern.ReplaceAllString(text, "")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// tokenize splits a preprocessed phrase into its tokens.
func tokenize(text string) []string {
	return strings.Fields(preprocessText(text))
}

// TrainPhrases builds one model from a batch of raw phrases (the cells of
// one source column). Counts are aggregated per token and then normalized
// to probabilities, so persisted weights sum to one per selection set.
func TrainPhrases(phrases []string) *Model {
	transitions := make(map[string]map[string]float64)
	startWords := make(map[string]float64)
	endWords := make(map[string]float64)
	lengths := make(LengthTable)

	for _, phrase := range phrases {
		tokens := tokenize(phrase)
		lengths[len(tokens)]++
		if len(tokens) == 0 {
			continue
		}

		startWords[tokens[0]]++
		endWords[tokens[len(tokens)-1]]++
		for i := 0; i < len(tokens)-1; i++ {
			row := transitions[tokens[i]]
			if row == nil {
				row = make(map[string]float64)
				transitions[tokens[i]] = row
			}
			row[tokens[i+1]]++
		}
	}

	for _, row := range transitions {
		normalizeWeights(row)
	}
	normalizeWeights(startWords)
	normalizeWeights(endWords)
	normalizeLengths(lengths)

	return &Model{
		Transitions: transitions,
		StartWords:  startWords,
		EndWords:    endWords,
		Lengths:     lengths,
	}
}

// TrainColumns reads headerless CSV data and trains one model per column,
// in column order. Empty cells are skipped, mirroring the dropped-NA
// handling of the original training pipeline. Ragged rows are allowed; a
// short row simply contributes nothing to the trailing columns.
func TrainColumns(r io.Reader) ([]*Model, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("could not read csv: %w", err)
	}

	columnCount := 0
	for _, record := range records {
		if len(record) > columnCount {
			columnCount = len(record)
		}
	}
	if columnCount == 0 {
		return nil, fmt.Errorf("csv contains no data")
	}

	models := make([]*Model, 0, columnCount)
	for col := 0; col < columnCount; col++ {
		var phrases []string
		for _, record := range records {
			if col >= len(record) || record[col] == "" {
				continue
			}
			phrases = append(phrases, record[col])
		}
		model := TrainPhrases(phrases)
		model.ColumnIndex = col
		if err = model.compile(); err != nil {
			return nil, fmt.Errorf("column %d: %w", col, err)
		}
		models = append(models, model)
	}
	return models, nil
}

func normalizeWeights(m map[string]float64) {
	var total float64
	for _, v := range m {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range m {
		m[k] = v / total
	}
}

func normalizeLengths(t LengthTable) {
	var total float64
	for _, v := range t {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range t {
		t[k] = v / total
	}
}

package markov

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"
)

// ErrInvalidModel indicates a model that cannot produce a valid phrase:
// it is missing required data, carries degenerate weights, or has no
// observed phrase length of at least two tokens.
var ErrInvalidModel = errors.New("invalid markov model")

// LengthTable is a histogram of observed phrase lengths (in tokens),
// keyed by length. JSON object keys are strings on the wire, so the
// table carries its own (un)marshalling.
type LengthTable map[int]float64

// UnmarshalJSON decodes a JSON object with stringified integer keys.
func (t *LengthTable) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(LengthTable, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("length table key %q is not an integer", k)
		}
		if n < 0 {
			return fmt.Errorf("length table key %d is negative", n)
		}
		out[n] = v
	}
	*t = out
	return nil
}

// MarshalJSON encodes the table with stringified keys, matching the
// persisted model file format.
func (t LengthTable) MarshalJSON() ([]byte, error) {
	raw := make(map[string]float64, len(t))
	for k, v := range t {
		raw[strconv.Itoa(k)] = v
	}
	return json.Marshal(raw)
}

// Model is one trained order-1 Markov chain over the vocabulary of a single
// source column. All weights are non-negative; start and end weights carry
// the frequency with which a token opened or closed a training phrase, and
// each transition row carries the weighted set of observed followers.
//
// A Model is read-only after loading. The derived vocabulary and selection
// tables are computed once, on first use.
type Model struct {
	ColumnIndex int                           `json:"column_index"`
	Transitions map[string]map[string]float64 `json:"transitions"`
	StartWords  map[string]float64            `json:"start_words"`
	EndWords    map[string]float64            `json:"end_words"`
	Lengths     LengthTable                   `json:"lengths"`

	compileOnce sync.Once
	compileErr  error
	vocab       []string
	startTable  *choiceTable
	endTable    *choiceTable
	transTables map[string]*choiceTable
}

// choiceTable holds parallel item/weight slices in sorted item order,
// ready for weighted selection. Sorted order keeps selection deterministic
// under a fixed random seed.
type choiceTable struct {
	items   []string
	weights []float64
	total   float64
}

func newChoiceTable(m map[string]float64) *choiceTable {
	t := &choiceTable{
		items:   make([]string, 0, len(m)),
		weights: make([]float64, 0, len(m)),
	}
	for item := range m {
		t.items = append(t.items, item)
	}
	sort.Strings(t.items)
	for _, item := range t.items {
		w := m[item]
		t.weights = append(t.weights, w)
		t.total += w
	}
	return t
}

// Validate checks the model's structural invariants: all four fields must
// be present and every weight must be a non-negative finite number. A token
// with an absent or empty transition row is a valid dead end, not an error.
func (m *Model) Validate() error {
	if m.Transitions == nil {
		return fmt.Errorf("%w: missing transitions", ErrInvalidModel)
	}
	if m.StartWords == nil {
		return fmt.Errorf("%w: missing start_words", ErrInvalidModel)
	}
	if m.EndWords == nil {
		return fmt.Errorf("%w: missing end_words", ErrInvalidModel)
	}
	if m.Lengths == nil {
		return fmt.Errorf("%w: missing lengths", ErrInvalidModel)
	}
	for token, row := range m.Transitions {
		for next, w := range row {
			if err := checkWeight(w); err != nil {
				return fmt.Errorf("%w: transition %q -> %q: %v", ErrInvalidModel, token, next, err)
			}
		}
	}
	for token, w := range m.StartWords {
		if err := checkWeight(w); err != nil {
			return fmt.Errorf("%w: start word %q: %v", ErrInvalidModel, token, err)
		}
	}
	for token, w := range m.EndWords {
		if err := checkWeight(w); err != nil {
			return fmt.Errorf("%w: end word %q: %v", ErrInvalidModel, token, err)
		}
	}
	for length, w := range m.Lengths {
		if err := checkWeight(w); err != nil {
			return fmt.Errorf("%w: length %d: %v", ErrInvalidModel, length, err)
		}
	}
	return nil
}

func checkWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return errors.New("weight is not finite")
	}
	if w < 0 {
		return errors.New("weight is negative")
	}
	return nil
}

// compile builds the derived vocabulary and selection tables. It runs at
// most once per model; the model must not be mutated afterwards.
func (m *Model) compile() error {
	m.compileOnce.Do(func() {
		if err := m.Validate(); err != nil {
			m.compileErr = err
			return
		}

		vocabSet := make(map[string]struct{})
		for token, row := range m.Transitions {
			vocabSet[token] = struct{}{}
			for next := range row {
				vocabSet[next] = struct{}{}
			}
		}
		for token := range m.StartWords {
			vocabSet[token] = struct{}{}
		}
		for token := range m.EndWords {
			vocabSet[token] = struct{}{}
		}
		m.vocab = make([]string, 0, len(vocabSet))
		for token := range vocabSet {
			m.vocab = append(m.vocab, token)
		}
		sort.Strings(m.vocab)

		m.startTable = newChoiceTable(m.StartWords)
		m.endTable = newChoiceTable(m.EndWords)
		m.transTables = make(map[string]*choiceTable, len(m.Transitions))
		for token, row := range m.Transitions {
			m.transTables[token] = newChoiceTable(row)
		}
	})
	return m.compileErr
}

// Vocabulary returns the model's derived vocabulary: the sorted union of
// all tokens appearing in transitions, start words, and end words.
func (m *Model) Vocabulary() ([]string, error) {
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m.vocab, nil
}

// MaxLength returns the longest phrase length observed in training data,
// or zero when the length table is empty.
func (m *Model) MaxLength() int {
	maxLen := 0
	for length := range m.Lengths {
		if length > maxLen {
			maxLen = length
		}
	}
	return maxLen
}

// IsEndWord reports whether token was observed as the last token of at
// least one training phrase.
func (m *Model) IsEndWord(token string) bool {
	_, ok := m.EndWords[token]
	return ok
}

// modelDocument is the wrapped model file shape produced by the batch
// processing pipeline, as opposed to the plain flat array.
type modelDocument struct {
	MarkovModels []*Model `json:"markov_models"`
}

// DecodeModels reads a persisted model file: either a flat JSON array with
// one model per source column, or a document wrapping that array under
// "markov_models". Every model is validated before return; a file that
// decodes but fails validation is rejected as a whole, since a corrupted
// model cannot guarantee generation terminates.
func DecodeModels(r io.Reader) ([]*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read model data: %w", err)
	}

	var models []*Model
	if err = json.Unmarshal(data, &models); err != nil {
		var doc modelDocument
		if docErr := json.Unmarshal(data, &doc); docErr != nil || doc.MarkovModels == nil {
			return nil, fmt.Errorf("could not decode model data: %w", err)
		}
		models = doc.MarkovModels
	}

	if len(models) == 0 {
		return nil, fmt.Errorf("%w: model file contains no models", ErrInvalidModel)
	}
	for i, model := range models {
		if model == nil {
			return nil, fmt.Errorf("%w: model %d is null", ErrInvalidModel, i)
		}
		if err = model.compile(); err != nil {
			return nil, fmt.Errorf("model %d: %w", i, err)
		}
	}
	return models, nil
}

// EncodeModels writes models as the flat JSON array format used by the
// trainer and consumed by DecodeModels.
func EncodeModels(w io.Writer, models []*Model) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(models)
}

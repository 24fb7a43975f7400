package markov

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
)

const (
	// maxWalkAttempts bounds the walk loop so generation terminates even
	// on pathological transition graphs.
	maxWalkAttempts = 1000
	// explorationRate is the probability of ignoring the transition table
	// for one step and jumping to a uniformly random vocabulary token.
	explorationRate = 0.05
)

// ErrZeroWeights indicates a weighted selection over a set whose weights
// sum to zero. A well-formed model never presents one where a selection
// is required.
var ErrZeroWeights = errors.New("weights sum to zero")

// Generator produces phrases from trained models. The zero-value options
// draw from the shared, concurrency-safe process random source; a Generator
// constructed with WithSource owns a private deterministic stream and must
// be confined to a single goroutine.
type Generator struct {
	rng    *rand.Rand
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSource makes the Generator draw from src instead of the shared
// process source. Supplying a fixed-seed source makes generation fully
// reproducible.
func WithSource(src rand.Source) GeneratorOption {
	return func(g *Generator) { g.rng = rand.New(src) }
}

// NewGenerator creates a Generator. By default all logs are discarded;
// see SetLogger.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetLogger sets the logger for the Generator. By default, all logs are
// discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func (g *Generator) randFloat() float64 {
	if g.rng != nil {
		return g.rng.Float64()
	}
	return rand.Float64()
}

func (g *Generator) randIntN(n int) int {
	if g.rng != nil {
		return g.rng.IntN(n)
	}
	return rand.IntN(n)
}

// Generate walks the model's transition table and returns one phrase:
// tokens joined by single spaces, always ending on one of the model's
// observed end words.
//
// The walk samples a target length uniformly from [2, max observed length],
// picks a weighted start word, and then repeatedly selects followers, with
// a 5% chance per step of jumping to a uniformly random vocabulary token.
// Dead ends and budget exhaustion are expected and handled by forcing a
// terminal end word; the only failure mode is ErrInvalidModel, when the
// model has no start words, no end words, or no observed length of at
// least two tokens.
func (g *Generator) Generate(m *Model) (string, error) {
	if err := m.compile(); err != nil {
		return "", err
	}
	if m.startTable.total <= 0 {
		return "", fmt.Errorf("%w: no start words to select from", ErrInvalidModel)
	}
	if m.endTable.total <= 0 {
		return "", fmt.Errorf("%w: no end words to select from", ErrInvalidModel)
	}
	maxLen := m.MaxLength()
	if maxLen < 2 {
		return "", fmt.Errorf("%w: max observed phrase length is %d, need at least 2", ErrInvalidModel, maxLen)
	}

	// Target length is uniform over the observed range rather than drawn
	// from the histogram, which randomizes around the training data
	// instead of reproducing its mode.
	target := g.randIntN(maxLen-1) + 2

	current := g.chooseFrom(m.startTable)
	phrase := []string{current}

	for attempts := 0; attempts < maxWalkAttempts; attempts++ {
		next, ok := g.nextWord(m, current)
		if !ok {
			g.logger.Debug("walk dead-ended",
				slog.String("word", current),
				slog.Int("length", len(phrase)),
			)
			break
		}
		phrase = append(phrase, next)
		current = next

		if len(phrase) >= target && m.IsEndWord(current) {
			break
		}
	}

	if !m.IsEndWord(current) {
		phrase = append(phrase, g.terminalWord(m, current))
	}

	return strings.Join(phrase, " "), nil
}

// nextWord picks the next token for the walk. It reports false when the
// walk dead-ends: the current word has no usable transition row.
func (g *Generator) nextWord(m *Model, current string) (string, bool) {
	if g.randFloat() < explorationRate {
		return m.vocab[g.randIntN(len(m.vocab))], true
	}
	row, ok := m.transTables[current]
	if !ok || row.total <= 0 {
		return "", false
	}
	return g.chooseFrom(row), true
}

// terminalWord forces the phrase onto an end word. End words reachable
// from the current word are preferred, weighted by their transition
// weights; otherwise any end word is chosen by its end-word weight.
func (g *Generator) terminalWord(m *Model, current string) string {
	if row, ok := m.transTables[current]; ok {
		reachable := &choiceTable{}
		for i, item := range row.items {
			if m.IsEndWord(item) {
				reachable.items = append(reachable.items, item)
				reachable.weights = append(reachable.weights, row.weights[i])
				reachable.total += row.weights[i]
			}
		}
		if reachable.total > 0 {
			return g.chooseFrom(reachable)
		}
	}
	return g.chooseFrom(m.endTable)
}

// WeightedChoice selects one item with probability proportional to its
// weight. Items with zero weight are never selected. It returns an error
// when the slices differ in length, are empty, or the weights sum to zero.
func (g *Generator) WeightedChoice(items []string, weights []float64) (string, error) {
	if len(items) == 0 || len(items) != len(weights) {
		return "", fmt.Errorf("weighted choice needs matching non-empty items and weights, got %d and %d", len(items), len(weights))
	}
	var total float64
	for _, w := range weights {
		if err := checkWeight(w); err != nil {
			return "", err
		}
		total += w
	}
	if total <= 0 {
		return "", ErrZeroWeights
	}
	return g.chooseFrom(&choiceTable{items: items, weights: weights, total: total}), nil
}

// chooseFrom draws uniformly in [0, total) and walks the weights until the
// draw is exhausted. Zero-weight items never absorb any of the draw, so
// they are never returned; if floating-point rounding lets the loop run
// off the end, the last positive-weight item wins.
func (g *Generator) chooseFrom(t *choiceTable) string {
	draw := g.randFloat() * t.total
	last := -1
	for i, w := range t.weights {
		if w <= 0 {
			continue
		}
		draw -= w
		if draw < 0 {
			return t.items[i]
		}
		last = i
	}
	return t.items[last]
}

package templating

import (
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mesolimbo/igg/pkg/markov"
)

// placeholderPattern matches numbered placeholders. A run of digits is one
// placeholder: "$12" refers to phrase twelve, never phrase one followed by
// a literal "2".
var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// EscapeFunc transforms a generated phrase for the target display context
// before it is embedded in a row. The template itself is never escaped:
// escape data, not structure.
type EscapeFunc func(string) string

// HTMLEscape escapes phrases for embedding in HTML output.
var HTMLEscape EscapeFunc = html.EscapeString

// HasPlaceholders reports whether template contains at least one numbered
// placeholder.
func HasPlaceholders(template string) bool {
	return placeholderPattern.MatchString(template)
}

// ComposeRow combines generated phrases (one per model, in model order)
// into one output line.
//
// With an empty template, phrases are joined with single spaces. Otherwise
// every occurrence of $k is replaced by the k-th phrase in a single pass
// over the template, so phrase content is never re-scanned for
// placeholders. A placeholder with no matching phrase is left verbatim:
// failing a whole batch over one bad index would be disproportionate.
func ComposeRow(phrases []string, template string, escape EscapeFunc) string {
	if escape != nil {
		escaped := make([]string, len(phrases))
		for i, phrase := range phrases {
			escaped[i] = escape(phrase)
		}
		phrases = escaped
	}

	if template == "" {
		return strings.Join(phrases, " ")
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		k, err := strconv.Atoi(placeholder[1:])
		if err != nil || k < 1 || k > len(phrases) {
			return placeholder
		}
		return phrases[k-1]
	})
}

// CSVRow joins phrases as one quoted comma-separated line, the historical
// no-template output mode for CSV-style result sets.
func CSVRow(phrases []string) string {
	quoted := make([]string, len(phrases))
	for i, phrase := range phrases {
		quoted[i] = `"` + strings.ReplaceAll(phrase, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}

// Composer generates result rows from a set of per-column models: one
// phrase per model per row, composed through ComposeRow. Composition
// itself is pure; the Composer only adds the generator and the escape
// policy.
type Composer struct {
	logger *slog.Logger
	gen    *markov.Generator
	escape EscapeFunc
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithEscape sets the escape policy applied to every generated phrase.
// The default applies no escaping, for callers whose output context (JSON
// APIs, plain text) needs none.
func WithEscape(escape EscapeFunc) ComposerOption {
	return func(c *Composer) { c.escape = escape }
}

// NewComposer creates a Composer that generates phrases with gen. A nil
// logger discards all logs.
func NewComposer(logger *slog.Logger, gen *markov.Generator, opts ...ComposerOption) *Composer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Composer{
		logger: logger,
		gen:    gen,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateRows produces count output rows. Each row generates one fresh
// phrase per model, in order, then composes them with the template (or the
// positional default when template is empty). Rows are independent: no
// state carries over between them.
//
// A non-empty template must contain at least one placeholder; a template
// that references more models than supplied is allowed and leaves the
// excess placeholders verbatim in every row.
func (c *Composer) GenerateRows(models []*markov.Model, template string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("row count must be positive, got %d", count)
	}
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	if template != "" && !HasPlaceholders(template) {
		return nil, errors.New("template must contain placeholders like $1, $2")
	}

	rows := make([]string, 0, count)
	phrases := make([]string, len(models))
	for i := 0; i < count; i++ {
		for j, model := range models {
			phrase, err := c.gen.Generate(model)
			if err != nil {
				return nil, fmt.Errorf("column model %d: %w", j+1, err)
			}
			phrases[j] = phrase
		}
		rows = append(rows, ComposeRow(phrases, template, c.escape))
	}

	c.logger.Debug("Generated result rows",
		slog.Int("rows", len(rows)),
		slog.Int("models", len(models)),
		slog.Bool("templated", template != ""),
	)
	return rows, nil
}

// Package text provides pre-synthesis text normalization. The model sidecar
// handles linguistic preprocessing; this package only guarantees the text
// handed to it is clean, printable UTF-8 with predictable punctuation.
package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidUTF8 indicates the input text is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("text is not valid utf-8")

// Unicode punctuation normalized to ASCII before synthesis.
const (
	emDash        = "—"
	enDash        = "–"
	figureDash    = "‒"
	horizontalBar = "―"
	ellipsisChar  = "…"
)

const whitespaceRegexPattern = `\s+`

// Normalizer cleans a single utterance before it reaches the synthesis gate.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	punctReplacer     *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctReplacer: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			horizontalBar, " - ",
			ellipsisChar, "...",
		),
	}
}

// Normalize validates and cleans the utterance: UTF-8 validation, control
// character removal, punctuation normalization, and whitespace collapsing.
// The returned string may be empty if the input held no speakable content.
func (n *Normalizer) Normalize(input string) (string, error) {
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	cleaned := stripControlRunes(input)
	cleaned = n.punctReplacer.Replace(cleaned)
	cleaned = n.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned), nil
}

// stripControlRunes removes control characters while keeping whitespace so
// the whitespace pass can collapse it uniformly.
func stripControlRunes(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	for _, r := range input {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

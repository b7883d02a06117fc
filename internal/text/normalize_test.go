// Package text_test tests the pre-synthesis text normalizer.
package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/text"
)

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got, err := normalizer.Normalize("  Hello\t\n  world \r\n ")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
}

func TestNormalize_StripsControlCharacters(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got, err := normalizer.Normalize("Hello\x00 wor\x07ld")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
}

func TestNormalize_NormalizesPunctuation(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got, err := normalizer.Normalize("Wait… the storm—it passed")
	require.NoError(t, err)
	assert.Equal(t, "Wait... the storm - it passed", got)
}

func TestNormalize_RejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	_, err := normalizer.Normalize(string([]byte{0xff, 0xfe, 0xfd}))
	require.Error(t, err)
	require.ErrorIs(t, err, text.ErrInvalidUTF8)
}

func TestNormalize_EmptyAfterCleaning(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	got, err := normalizer.Normalize(" \t \n ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

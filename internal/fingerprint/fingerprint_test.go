package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("Trafikolycka, Stockholm", "Två bilar i kollision.", "Trafikolycka")
	b := Compute("Trafikolycka, Stockholm", "Två bilar i kollision.", "Trafikolycka")
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
	assert.Regexp(t, `^[0-9a-f]{8}$`, a)
}

func TestComputeChangesWithContent(t *testing.T) {
	base := Compute("Inbrott, Göteborg", "En man greps.", "Inbrott")

	assert.NotEqual(t, base, Compute("Inbrott, Göteborg", "Två män greps.", "Inbrott"))
	assert.NotEqual(t, base, Compute("Inbrott, Malmö", "En man greps.", "Inbrott"))
	assert.NotEqual(t, base, Compute("Inbrott, Göteborg", "En man greps.", "Stöld"))
}

func TestComputeFieldBoundaries(t *testing.T) {
	// The separator keeps field contents from bleeding into each other.
	assert.NotEqual(t,
		Compute("ab", "c", "x"),
		Compute("a", "bc", "x"),
	)
}

func TestComputeUnicodeNormalization(t *testing.T) {
	// Composed é versus e + combining acute: same content, same print.
	assert.Equal(t,
		Compute("café", "", ""),
		Compute("cafe\u0301", "", ""),
	)
}

func TestComputeEmpty(t *testing.T) {
	got := Compute("", "", "")
	assert.Len(t, got, 8)
	// Empty fields still hash the separators, never to zero padding alone.
	assert.NotEqual(t, "00000000", got)
}

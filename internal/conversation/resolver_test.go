package conversation

import (
	"testing"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NumericDigit(t *testing.T) {
	cands := testCandidates()

	c, ok := Resolve("2", cands)
	require.True(t, ok)
	assert.Equal(t, "Staff", c.ParentNodeName)

	c, ok = Resolve("  1 por favor", cands)
	require.True(t, ok)
	assert.Equal(t, "Comercial", c.ParentNodeName)
}

func TestResolve_NumericOutOfRange(t *testing.T) {
	cands := testCandidates()

	// Out of range never falls through to fuzzy matching.
	_, ok := Resolve("5", cands)
	assert.False(t, ok)

	_, ok = Resolve("0", cands)
	assert.False(t, ok)
}

func TestResolve_SpanishNumberWords(t *testing.T) {
	cands := testCandidates()

	c, ok := Resolve("dos", cands)
	require.True(t, ok)
	assert.Equal(t, "Staff", c.ParentNodeName)

	c, ok = Resolve("Uno", cands)
	require.True(t, ok)
	assert.Equal(t, "Comercial", c.ParentNodeName)

	// "cinco" with two candidates is out of range
	_, ok = Resolve("cinco", cands)
	assert.False(t, ok)
}

func TestResolve_FuzzyParentNode(t *testing.T) {
	cands := testCandidates()

	c, ok := Resolve("estaf", cands)
	require.True(t, ok)
	assert.Equal(t, "Staff", c.ParentNodeName)

	c, ok = Resolve("comercial", cands)
	require.True(t, ok)
	assert.Equal(t, "Comercial", c.ParentNodeName)
}

func TestResolve_FuzzyDiacritics(t *testing.T) {
	cands := []domain.Candidate{
		{ProjectName: "Soporte", ParentNodeName: "Operación", FullPath: "Operación/Soporte"},
		{ProjectName: "Soporte", ParentNodeName: "Técnico", FullPath: "Técnico/Soporte"},
	}

	c, ok := Resolve("tecnico", cands)
	require.True(t, ok)
	assert.Equal(t, "Técnico", c.ParentNodeName)
}

func TestResolve_BelowThreshold(t *testing.T) {
	_, ok := Resolve("zzzzzzzzzz", testCandidates())
	assert.False(t, ok)
}

func TestResolve_EmptyInputs(t *testing.T) {
	_, ok := Resolve("", testCandidates())
	assert.False(t, ok)

	_, ok = Resolve("2", nil)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "operacion", Normalize("  Operación "))
	assert.Equal(t, "tecnico", Normalize("TÉCNICO"))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation("cancelar"))
	assert.True(t, IsCancellation("No"))
	assert.False(t, IsCancellation("2"))
}

func TestIsAffirmation(t *testing.T) {
	assert.True(t, IsAffirmation("sí"))
	assert.True(t, IsAffirmation("vale"))
	assert.False(t, IsAffirmation("nunca"))
}

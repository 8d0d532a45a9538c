package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_DeterministicUnitLength(t *testing.T) {
	a := Vector("hello", 32)
	b := Vector("hello", 32)
	c := Vector("world", 32)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_EmbedDocuments(t *testing.T) {
	m := NewMockEmbedder(0)

	res, err := m.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Len(t, res[0], DefaultDimension)
	assert.Equal(t, 1, m.CallCount())
}

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	m, v := MeanVar([]int{1, 2, 3, 4})
	require.Equal(t, 2.5, m)
	require.Equal(t, 1.25, v)
	require.Equal(t, 2.5, Median([]int{4, 1, 3, 2}))
	require.Equal(t, 3.0, Median([]float32{5, 3, 1}))
	require.Equal(t, 0.0, Mean([]int{}))
	require.Equal(t, 0.0, Median([]int{}))
}

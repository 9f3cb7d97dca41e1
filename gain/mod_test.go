package gain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_gain_local_counts(t *testing.T) {
	counts, err := LocalCounts(
		[]int{0, 0, 1, 1, 2},
		[]int{0, 1, 1, 1, 0},
		3, 2)
	require.NoError(t, err)
	require.Equal(t, [][]int64{{1, 1}, {0, 2}, {1, 0}}, counts)
	require.Equal(t, int64(5), Total(counts))
}

// out-of-range values, including the -1 missing marker, are skipped silently
func Test_gain_local_counts_skips_out_of_range(t *testing.T) {
	counts, err := LocalCounts(
		[]int{0, -1, 7, 1},
		[]int{0, 0, 0, 5},
		3, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), Total(counts))
	require.Equal(t, int64(1), counts[0][0])
}

func Test_gain_local_counts_length_mismatch(t *testing.T) {
	_, err := LocalCounts([]int{0, 1}, []int{0}, 2, 2)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = LocalCounts(nil, nil, 0, 2)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func Test_gain_flatten_unflatten(t *testing.T) {
	counts := [][]int64{{1, 2}, {3, 4}, {5, 6}}

	flat := Flatten(counts)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, flat)

	back, err := Unflatten(flat, 3, 2)
	require.NoError(t, err)
	require.Equal(t, counts, back)

	_, err = Unflatten(flat, 2, 2)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

// a perfectly discriminating attribute gains the full class entropy
func Test_gain_information_gain_perfect_split(t *testing.T) {
	counts := [][]int64{{4, 0}, {0, 4}}
	gain := InformationGain(counts, 8)
	require.InDelta(t, 1.0, gain, 1e-9)
}

// an attribute independent of the class gains nothing
func Test_gain_information_gain_independent(t *testing.T) {
	counts := [][]int64{{2, 2}, {2, 2}}
	gain := InformationGain(counts, 8)
	require.InDelta(t, 0.0, gain, 1e-9)
}

func Test_gain_information_gain_zero_total(t *testing.T) {
	require.Equal(t, 0.0, InformationGain([][]int64{{0, 0}}, 0))
}

// reference values for the classic weather table's outlook attribute
func Test_gain_information_gain_weather_outlook(t *testing.T) {
	// rows: sunny, overcast, rainy; columns: yes, no
	counts := [][]int64{{2, 3}, {4, 0}, {3, 2}}
	gain := InformationGain(counts, 14)
	require.InDelta(t, 0.2467, gain, 1e-4)

	ratio := GainRatio(gain, counts, 14)
	require.InDelta(t, 0.1564, ratio, 1e-4)
}

// all instances on one attribute value: split information degenerates and the
// ratio is defined as zero
func Test_gain_ratio_degenerate_split(t *testing.T) {
	counts := [][]int64{{4, 4}, {0, 0}}
	gain := InformationGain(counts, 8)
	require.Equal(t, 0.0, GainRatio(gain, counts, 8))
	require.Equal(t, 0.0, GainRatio(math.Inf(1), counts, 8))
}

func Test_gain_ratio_zero_total(t *testing.T) {
	require.Equal(t, 0.0, GainRatio(1.0, [][]int64{{0}}, 0))
}

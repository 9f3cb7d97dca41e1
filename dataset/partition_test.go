package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadGolf(t *testing.T) *Dataset {
	ds, err := Load(strings.NewReader(golfARFF))
	require.NoError(t, err)
	return ds
}

func Test_partition_vertical(t *testing.T) {
	ds := loadGolf(t)

	p, err := VerticalPartition(ds, "party1", []int{2, 0})
	require.NoError(t, err)

	require.Equal(t, "party1", p.PartyID)
	require.Equal(t, []int{0, 2}, p.AttrIndexes)
	require.Equal(t, ds.NumRows(), p.NumRows())
	require.True(t, p.Holds(0))
	require.True(t, p.Holds(2))
	require.False(t, p.Holds(1))
	require.False(t, p.HasClass)

	require.Equal(t, []int{0, 1, 2}, p.Columns[0])
	require.Equal(t, []int{1, 0, 1}, p.Columns[2])
}

func Test_partition_vertical_with_class(t *testing.T) {
	ds := loadGolf(t)

	p, err := VerticalPartition(ds, "party2", []int{1, 3})
	require.NoError(t, err)
	require.True(t, p.HasClass)
	require.Equal(t, 3, p.ClassIndex)
	require.Equal(t, []int{1, 0, 0}, p.Columns[3])
}

func Test_partition_vertical_rejects_bad_index(t *testing.T) {
	ds := loadGolf(t)

	_, err := VerticalPartition(ds, "party1", []int{9})
	require.ErrorIs(t, err, ErrDataFormat)
}

// contiguous blocks, class column to the last party
func Test_partition_distribute_attributes(t *testing.T) {
	assignment := DistributeAttributes(5, 4, 3)
	require.Equal(t, [][]int{{0, 1}, {2}, {3, 4}}, assignment)

	assignment = DistributeAttributes(4, 3, 2)
	require.Equal(t, [][]int{{0, 1}, {2, 3}}, assignment)

	// every attribute assigned exactly once
	seen := map[int]bool{}
	for _, idxs := range DistributeAttributes(11, 10, 4) {
		for _, idx := range idxs {
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
	require.Len(t, seen, 11)
}

func Test_partition_wire_roundtrip(t *testing.T) {
	entries := FormatPartitioning(
		[]string{"party1", "party2"},
		[][]int{{0, 1}, {2, 3}})
	require.Equal(t, []string{"0,1:party1", "2,3:party2"}, entries)

	parsed, err := ParsePartitioning(entries)
	require.NoError(t, err)
	require.Equal(t, map[string][]int{
		"party1": {0, 1},
		"party2": {2, 3},
	}, parsed)
}

func Test_partition_parse_rejects_malformed(t *testing.T) {
	for _, entry := range []string{"0,1", ":party1", "0,1:", "a,b:party1"} {
		_, err := ParsePartitioning([]string{entry})
		require.ErrorIs(t, err, ErrDataFormat, entry)
	}
}

func Test_partition_owner(t *testing.T) {
	partitioning := map[string][]int{
		"party1": {0, 1},
		"party2": {2, 3},
	}
	require.Equal(t, "party1", Owner(partitioning, 1))
	require.Equal(t, "party2", Owner(partitioning, 3))
	require.Equal(t, "", Owner(partitioning, 7))
}

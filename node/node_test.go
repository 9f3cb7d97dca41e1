package node

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/transport/channel"
	"github.com/privml/c50d/tree"
)

const weatherARFF = `@relation weather
@attribute outlook {sunny, overcast, rainy}
@attribute temperature {hot, mild, cool}
@attribute humidity {high, normal}
@attribute windy {TRUE, FALSE}
@attribute play {yes, no}
@data
sunny, hot, high, FALSE, no
sunny, hot, high, TRUE, no
overcast, hot, high, FALSE, yes
rainy, mild, high, FALSE, yes
rainy, cool, normal, FALSE, yes
rainy, cool, normal, TRUE, no
overcast, cool, normal, TRUE, yes
sunny, mild, high, FALSE, no
sunny, cool, normal, FALSE, yes
rainy, mild, normal, FALSE, yes
sunny, mild, normal, TRUE, yes
overcast, mild, high, TRUE, yes
overcast, hot, normal, FALSE, yes
rainy, mild, high, TRUE, no
`

func loadWeather(t *testing.T) *dataset.Dataset {
	ds, err := dataset.Load(strings.NewReader(weatherARFF))
	require.NoError(t, err)
	return ds
}

func testTreeConfig() tree.Config {
	return tree.Config{MaxDepth: 10, MinInstances: 2, MinGain: 0.01}
}

// startCluster brings up a coordinator and one party per partitioning entry,
// all over the in-memory transport.
func startCluster(t *testing.T, ds *dataset.Dataset, ring []string,
	partitioning map[string][]int) (*Coordinator, RunConfig) {

	transp := channel.NewTransport()

	coordinator := NewCoordinator("coordinator", "coordinator:0", transp)
	require.NoError(t, coordinator.Start())
	t.Cleanup(func() { coordinator.Stop() })

	for _, id := range ring {
		party := NewDataParty(id, id+":0", transp, coordinator.Address(), ds)
		require.NoError(t, party.Start())
		t.Cleanup(func() { party.Stop() })
	}

	return coordinator, RunConfig{
		DatasetName:  ds.Name,
		Attributes:   ds.Attributes,
		ClassIndex:   ds.ClassIndex,
		NumRows:      ds.NumRows(),
		Ring:         ring,
		Partitioning: partitioning,
		Tree:         testTreeConfig(),
	}
}

func render(ds *dataset.Dataset, root *tree.Node) string {
	return root.Render(func(attrIndex int) []string {
		return ds.Attributes[attrIndex].NominalValues
	})
}

// a single party holds the whole table, so the distributed build must agree
// exactly with the in-process build
func Test_node_single_party_matches_local_build(t *testing.T) {
	ds := loadWeather(t)

	all := make([]int, len(ds.Attributes))
	for i := range all {
		all[i] = i
	}
	coordinator, run := startCluster(t, ds,
		[]string{"party1"},
		map[string][]int{"party1": all})

	root, err := coordinator.Run(run)
	require.NoError(t, err)
	require.NotNil(t, root)

	local := tree.NewBuilder(testTreeConfig(), ds.Attributes, ds.ClassIndex, tree.NewLocalView(ds))
	reference, err := local.Build()
	require.NoError(t, err)

	require.Equal(t, render(ds, reference), render(ds, root))
	require.Equal(t, root, coordinator.Tree())
}

// with two parties, only attributes co-located with the class column produce
// joint counts, so the root splits on the class holder's best attribute
func Test_node_two_party_splits_on_colocated_attribute(t *testing.T) {
	ds := loadWeather(t)

	coordinator, run := startCluster(t, ds,
		[]string{"party1", "party2"},
		map[string][]int{
			"party1": {0, 1},
			"party2": {2, 3, 4},
		})

	root, err := coordinator.Run(run)
	require.NoError(t, err)

	require.False(t, root.Leaf)
	require.Equal(t, "humidity", root.AttributeName)
	require.Len(t, root.Children, 2)
}

// no party holds an attribute together with the class: every candidate counts
// to zero and the tree collapses to the majority leaf
func Test_node_isolated_class_column_yields_majority_leaf(t *testing.T) {
	ds := loadWeather(t)

	coordinator, run := startCluster(t, ds,
		[]string{"party1", "party2", "party3"},
		map[string][]int{
			"party1": {0, 1},
			"party2": {2, 3},
			"party3": {4},
		})

	root, err := coordinator.Run(run)
	require.NoError(t, err)

	require.True(t, root.Leaf)
	require.Equal(t, "yes", root.ClassLabel)
	require.Equal(t, []int64{9, 5}, root.ClassDistribution)
}

// three parties, class co-located with the last attribute block
func Test_node_three_party_build_completes(t *testing.T) {
	ds := loadWeather(t)

	coordinator, run := startCluster(t, ds,
		[]string{"party1", "party2", "party3"},
		map[string][]int{
			"party1": {0},
			"party2": {1},
			"party3": {2, 3, 4},
		})

	root, err := coordinator.Run(run)
	require.NoError(t, err)

	require.False(t, root.Leaf)
	require.Equal(t, "humidity", root.AttributeName)

	// a second run over the same cluster also completes
	again, err := coordinator.Run(run)
	require.NoError(t, err)
	require.Equal(t, render(ds, root), render(ds, again))
}

// a party whose local table disagrees with the announced schema refuses the
// run, failing it for the coordinator
func Test_node_schema_mismatch_rejects_run(t *testing.T) {
	ds := loadWeather(t)

	drifted, err := dataset.Load(strings.NewReader(weatherARFF))
	require.NoError(t, err)
	drifted.Rows = drifted.Rows[:10]

	transp := channel.NewTransport()
	coordinator := NewCoordinator("coordinator", "coordinator:0", transp)
	require.NoError(t, coordinator.Start())
	t.Cleanup(func() { coordinator.Stop() })

	good := NewDataParty("party1", "party1:0", transp, coordinator.Address(), ds)
	require.NoError(t, good.Start())
	t.Cleanup(func() { good.Stop() })

	bad := NewDataParty("party2", "party2:0", transp, coordinator.Address(), drifted)
	require.NoError(t, bad.Start())
	t.Cleanup(func() { bad.Stop() })

	_, err = coordinator.Run(RunConfig{
		DatasetName:  ds.Name,
		Attributes:   ds.Attributes,
		ClassIndex:   ds.ClassIndex,
		NumRows:      ds.NumRows(),
		Ring:         []string{"party1", "party2"},
		Partitioning: map[string][]int{"party1": {0, 1}, "party2": {2, 3, 4}},
		Tree:         testTreeConfig(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SCHEMA_MISMATCH")
}

// a run against a ring party that never connected fails fast
func Test_node_missing_party_fails_run(t *testing.T) {
	ds := loadWeather(t)

	coordinator, run := startCluster(t, ds,
		[]string{"party1"},
		map[string][]int{"party1": {0, 1, 2, 3, 4}})
	run.Ring = []string{"party1", "ghost"}
	run.Partitioning["ghost"] = []int{2}
	run.ConnectTimeout = 200 * time.Millisecond

	_, err := coordinator.Run(run)
	require.Error(t, err)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/node"
	"github.com/privml/c50d/transport/channel"
	"github.com/privml/c50d/tree"
)

// Simulate runs a whole distributed build in one process over the in-memory
// transport: one coordinator and numParties data parties, each holding a
// vertical slice of the dataset. Useful for checking that a distributed run
// agrees with the single-table build.
func Simulate(dataFile string, numParties int, treeCfg tree.Config) error {
	if numParties < 1 {
		return fmt.Errorf("need at least one party, got %d", numParties)
	}

	file, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(file)
	file.Close()
	if err != nil {
		return err
	}
	if numParties > len(ds.Attributes) {
		return fmt.Errorf("%d parties for %d attributes", numParties, len(ds.Attributes))
	}

	transp := channel.NewTransport()
	coordinator := node.NewCoordinator("coordinator", "coordinator:0", transp)
	err = coordinator.Start()
	if err != nil {
		return err
	}
	defer coordinator.Stop()

	ring := make([]string, numParties)
	assignment := dataset.DistributeAttributes(len(ds.Attributes), ds.ClassIndex, numParties)
	partitioning := make(map[string][]int, numParties)
	for i := range ring {
		ring[i] = fmt.Sprintf("party%d", i+1)
		partitioning[ring[i]] = assignment[i]
	}

	for _, id := range ring {
		party := node.NewDataParty(id, fmt.Sprintf("%s:0", id), transp,
			coordinator.Address(), ds)
		err = party.Start()
		if err != nil {
			return err
		}
		defer party.Stop()
	}

	root, err := coordinator.Run(node.RunConfig{
		DatasetName:  ds.Name,
		Attributes:   ds.Attributes,
		ClassIndex:   ds.ClassIndex,
		NumRows:      ds.NumRows(),
		Ring:         ring,
		Partitioning: partitioning,
		Tree:         treeCfg,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Distributed tree over %d parties:\n", numParties)
	fmt.Println(renderTree(root, ds.Attributes))

	// Cross-check against the plain single-table build.
	local := tree.NewBuilder(treeCfg, ds.Attributes, ds.ClassIndex, tree.NewLocalView(ds))
	reference, err := local.Build()
	if err != nil {
		return err
	}
	fmt.Println("Single-table tree:")
	fmt.Println(renderTree(reference, ds.Attributes))
	return nil
}

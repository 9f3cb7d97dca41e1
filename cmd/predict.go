package cmd

import (
	"fmt"
	"os"

	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/tree"
)

// Predict builds a tree from a locally held dataset and classifies one
// record from a tab-separated values file. No network involved; this is the
// single-table counterpart of the coordinator console's predict action.
func Predict(dataFile, valuesFile string, treeCfg tree.Config) error {
	file, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(file)
	file.Close()
	if err != nil {
		return err
	}

	builder := tree.NewBuilder(treeCfg, ds.Attributes, ds.ClassIndex, tree.NewLocalView(ds))
	root, err := builder.Build()
	if err != nil {
		return err
	}

	values, err := os.Open(valuesFile)
	if err != nil {
		return err
	}
	features, err := dataset.ParseValuesFile(values)
	values.Close()
	if err != nil {
		return err
	}

	label, err := root.Predict(features)
	if err != nil {
		return err
	}
	fmt.Printf("Predicted class: %s\n", label)
	return nil
}

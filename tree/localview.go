package tree

import (
	"sort"

	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/gain"
	"golang.org/x/xerrors"
)

// LocalView implements DataView over a fully loaded dataset in one process.
// It mirrors what the distributed rounds compute, minus the masking, and
// backs the single-process simulation and the builder tests.
//
// - implements tree.DataView
type LocalView struct {
	ds     *dataset.Dataset
	scopes map[string][]int
}

// NewLocalView returns a view rooted at the full row set.
func NewLocalView(ds *dataset.Dataset) *LocalView {
	all := make([]int, ds.NumRows())
	for i := range all {
		all[i] = i
	}
	return &LocalView{
		ds:     ds,
		scopes: map[string][]int{RootPath: all},
	}
}

func (v *LocalView) rows(path string) ([]int, error) {
	rows, ok := v.scopes[path]
	if !ok {
		return nil, xerrors.Errorf("unknown row scope %q", path)
	}
	return rows, nil
}

// ClassDistribution implements tree.DataView
func (v *LocalView) ClassDistribution(path string) ([]int64, error) {
	rows, err := v.rows(path)
	if err != nil {
		return nil, err
	}

	distribution := make([]int64, v.ds.Attributes[v.ds.ClassIndex].NumValues())
	for _, r := range rows {
		c := v.ds.Rows[r][v.ds.ClassIndex]
		if c >= 0 && c < len(distribution) {
			distribution[c]++
		}
	}
	return distribution, nil
}

// AttributeCounts implements tree.DataView
func (v *LocalView) AttributeCounts(path string, attrIndex int) ([][]int64, error) {
	rows, err := v.rows(path)
	if err != nil {
		return nil, err
	}

	attrValues := make([]int, len(rows))
	classValues := make([]int, len(rows))
	for i, r := range rows {
		attrValues[i] = v.ds.Rows[r][attrIndex]
		classValues[i] = v.ds.Rows[r][v.ds.ClassIndex]
	}

	return gain.LocalCounts(attrValues, classValues,
		v.ds.Attributes[attrIndex].NumValues(),
		v.ds.Attributes[v.ds.ClassIndex].NumValues())
}

// Split implements tree.DataView
func (v *LocalView) Split(path string, attrIndex int) ([]int, error) {
	rows, err := v.rows(path)
	if err != nil {
		return nil, err
	}

	numChildren := v.ds.Attributes[attrIndex].NumValues()
	children := make([][]int, numChildren)
	for _, r := range rows {
		value := v.ds.Rows[r][attrIndex]
		if value >= 0 && value < numChildren {
			children[value] = append(children[value], r)
		}
	}

	counts := make([]int, numChildren)
	for value, childRows := range children {
		sort.Ints(childRows)
		v.scopes[ChildPath(path, value)] = childRows
		counts[value] = len(childRows)
	}
	return counts, nil
}

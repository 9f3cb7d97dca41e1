// Package gain computes entropy-based split statistics from attribute×class
// count matrices. Local counts are tallied here; global counts are obtained
// by summing the local matrices of every party through the secure sum ring.
// The package is transport-agnostic: it never talks to other parties itself.
package gain

import (
	"math"

	"golang.org/x/xerrors"
)

// ErrSchemaMismatch reports count inputs that disagree with the declared
// schema. The affected attribute is excluded from the split comparison for
// the current tree node.
var ErrSchemaMismatch = xerrors.New("schema mismatch")

// splitInfoEpsilon guards the gain ratio division. A split information below
// this threshold means the attribute has (nearly) one observed value and
// cannot discriminate, so its gain ratio is defined as zero.
const splitInfoEpsilon = 1e-10

// LocalCounts tallies the attribute×class matrix over row-aligned value
// slices. Values outside the declared cardinalities, including the -1
// missing marker, are skipped silently; mismatched slice lengths are a
// schema error.
func LocalCounts(attributeValues, classValues []int, numAttributeValues, numClassValues int) ([][]int64, error) {
	if len(attributeValues) != len(classValues) {
		return nil, xerrors.Errorf("%w: %d attribute values vs %d class values",
			ErrSchemaMismatch, len(attributeValues), len(classValues))
	}
	if numAttributeValues <= 0 || numClassValues <= 0 {
		return nil, xerrors.Errorf("%w: non-positive cardinality %d×%d",
			ErrSchemaMismatch, numAttributeValues, numClassValues)
	}

	counts := NewCounts(numAttributeValues, numClassValues)
	for i := range attributeValues {
		a, c := attributeValues[i], classValues[i]
		if a >= 0 && a < numAttributeValues && c >= 0 && c < numClassValues {
			counts[a][c]++
		}
	}
	return counts, nil
}

// NewCounts returns a zeroed count matrix.
func NewCounts(numAttributeValues, numClassValues int) [][]int64 {
	counts := make([][]int64, numAttributeValues)
	for i := range counts {
		counts[i] = make([]int64, numClassValues)
	}
	return counts
}

// Flatten lays the matrix out row-major for a batched secure sum pass.
func Flatten(counts [][]int64) []int64 {
	if len(counts) == 0 {
		return nil
	}
	flat := make([]int64, 0, len(counts)*len(counts[0]))
	for _, row := range counts {
		flat = append(flat, row...)
	}
	return flat
}

// Unflatten rebuilds a matrix from a row-major vector.
func Unflatten(flat []int64, numAttributeValues, numClassValues int) ([][]int64, error) {
	if len(flat) != numAttributeValues*numClassValues {
		return nil, xerrors.Errorf("%w: vector of %d values for a %d×%d matrix",
			ErrSchemaMismatch, len(flat), numAttributeValues, numClassValues)
	}
	counts := NewCounts(numAttributeValues, numClassValues)
	for i := range counts {
		copy(counts[i], flat[i*numClassValues:(i+1)*numClassValues])
	}
	return counts, nil
}

// Total returns the sum of all cells.
func Total(counts [][]int64) int64 {
	var total int64
	for _, row := range counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// InformationGain computes H(class) − Σ_v (n_v/N)·H(class|attr=v) with
// base-2 logarithms and the 0·log2(0)=0 convention. A total of zero yields
// zero gain.
func InformationGain(globalCounts [][]int64, totalInstances int64) float64 {
	if totalInstances == 0 || len(globalCounts) == 0 {
		return 0.0
	}

	classTotals := make([]int64, len(globalCounts[0]))
	attributeTotals := make([]int64, len(globalCounts))
	for i, row := range globalCounts {
		for j, c := range row {
			classTotals[j] += c
			attributeTotals[i] += c
		}
	}

	classEntropy := 0.0
	for _, t := range classTotals {
		if t > 0 {
			p := float64(t) / float64(totalInstances)
			classEntropy -= p * math.Log2(p)
		}
	}

	conditionalEntropy := 0.0
	for i, row := range globalCounts {
		if attributeTotals[i] == 0 {
			continue
		}
		attributeEntropy := 0.0
		for _, c := range row {
			if c > 0 {
				p := float64(c) / float64(attributeTotals[i])
				attributeEntropy -= p * math.Log2(p)
			}
		}
		conditionalEntropy += float64(attributeTotals[i]) / float64(totalInstances) * attributeEntropy
	}

	return classEntropy - conditionalEntropy
}

// GainRatio normalizes the information gain by the split information over
// the attribute-value marginals. Near-degenerate splits return zero.
func GainRatio(informationGain float64, globalCounts [][]int64, totalInstances int64) float64 {
	if totalInstances == 0 {
		return 0.0
	}

	splitInfo := 0.0
	for _, row := range globalCounts {
		var attributeTotal int64
		for _, c := range row {
			attributeTotal += c
		}
		if attributeTotal > 0 {
			p := float64(attributeTotal) / float64(totalInstances)
			splitInfo -= p * math.Log2(p)
		}
	}

	if splitInfo < splitInfoEpsilon {
		return 0.0
	}
	return informationGain / splitInfo
}

package tree

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/gain"
	"golang.org/x/xerrors"
)

// RootPath identifies the root node's row scope. Child scopes append the
// child's value index, e.g. "r.2.0".
const RootPath = "r"

// ChildPath returns the scope path of the given child.
func ChildPath(path string, valueIndex int) string {
	return fmt.Sprintf("%s.%d", path, valueIndex)
}

// Default stopping parameters.
const (
	DefaultMaxDepth     = 10
	DefaultMinInstances = 5
	DefaultMinGain      = 0.01
)

// Config bundles the stopping criteria of the builder.
type Config struct {
	MaxDepth     int
	MinInstances int
	MinGain      float64
}

// DefaultConfig returns the reference stopping parameters.
func DefaultConfig() Config {
	return Config{
		MaxDepth:     DefaultMaxDepth,
		MinInstances: DefaultMinInstances,
		MinGain:      DefaultMinGain,
	}
}

// Wire encodes the config as the initiation message's configuration map.
func (c Config) Wire() map[string]string {
	return map[string]string{
		"maxDepth":     strconv.Itoa(c.MaxDepth),
		"minInstances": strconv.Itoa(c.MinInstances),
		"minGain":      strconv.FormatFloat(c.MinGain, 'g', -1, 64),
	}
}

// ConfigFromWire decodes a configuration map, falling back to defaults for
// absent keys.
func ConfigFromWire(m map[string]string) (Config, error) {
	cfg := DefaultConfig()
	if v, ok := m["maxDepth"]; ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return cfg, xerrors.Errorf("bad maxDepth %q", v)
		}
		cfg.MaxDepth = parsed
	}
	if v, ok := m["minInstances"]; ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return cfg, xerrors.Errorf("bad minInstances %q", v)
		}
		cfg.MinInstances = parsed
	}
	if v, ok := m["minGain"]; ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, xerrors.Errorf("bad minGain %q", v)
		}
		cfg.MinGain = parsed
	}
	return cfg, nil
}

// DataView supplies the builder with global statistics for a row scope. The
// coordinator's implementation answers each call with secure sum rounds over
// the party ring; the local implementation answers from an in-process table.
type DataView interface {
	// ClassDistribution returns the global class counts of the scope.
	ClassDistribution(path string) ([]int64, error)

	// AttributeCounts returns the global attribute×class count matrix of
	// the scope for one candidate attribute.
	AttributeCounts(path string, attrIndex int) ([][]int64, error)

	// Split partitions the scope's rows by the given attribute's value on
	// every party and returns the per-child row counts. Rows with an
	// out-of-range value are routed to no child.
	Split(path string, attrIndex int) ([]int, error)
}

// NewBuilder returns a builder over the given schema and data view.
func NewBuilder(cfg Config, attrs []dataset.AttributeMetadata, classIndex int, view DataView) *Builder {
	return &Builder{cfg: cfg, attrs: attrs, classIndex: classIndex, view: view}
}

// Builder grows a decision tree top-down, one node per recursive call.
type Builder struct {
	cfg        Config
	attrs      []dataset.AttributeMetadata
	classIndex int
	view       DataView
}

// Build grows the full tree and returns its root.
func (b *Builder) Build() (*Node, error) {
	return b.build(RootPath, map[int]bool{}, 0, "")
}

// build grows the subtree rooted at the given scope. usedAttributes is
// copied before extension so sibling recursions never share path state.
func (b *Builder) build(path string, usedAttributes map[int]bool, depth int, parentLabel string) (*Node, error) {
	distribution, err := b.view.ClassDistribution(path)
	if err != nil {
		return nil, err
	}

	var total int64
	nonZero := 0
	for _, c := range distribution {
		total += c
		if c > 0 {
			nonZero++
		}
	}

	// Stopping criteria, first match wins.
	switch {
	case depth >= b.cfg.MaxDepth,
		total < int64(b.cfg.MinInstances),
		nonZero <= 1,
		len(usedAttributes) >= len(b.attrs)-1:
		return b.makeLeaf(distribution, total, parentLabel), nil
	}

	// Candidates are evaluated concurrently: the rounds are independent and
	// the view serializes each individual ring pass. Results land in a slice
	// indexed by attribute so the comparison below stays in scan order.
	type evaluation struct {
		evaluated bool
		ratio     float64
	}
	evals := make([]evaluation, len(b.attrs))
	errs := make([]error, len(b.attrs))
	var wg sync.WaitGroup

	for attrIndex := range b.attrs {
		if attrIndex == b.classIndex || usedAttributes[attrIndex] {
			continue
		}
		// Numeric attributes are not supported for splitting.
		if b.attrs[attrIndex].Kind != dataset.Nominal {
			continue
		}

		wg.Add(1)
		go func(attrIndex int) {
			defer wg.Done()
			counts, err := b.view.AttributeCounts(path, attrIndex)
			if errors.Is(err, gain.ErrSchemaMismatch) {
				log.Warn().Msgf("excluding attribute %s at %s: %v", b.attrs[attrIndex].Name, path, err)
				return
			}
			if err != nil {
				errs[attrIndex] = err
				return
			}
			infoGain := gain.InformationGain(counts, total)
			evals[attrIndex] = evaluation{
				evaluated: true,
				ratio:     gain.GainRatio(infoGain, counts, total),
			}
		}(attrIndex)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	bestAttr, bestRatio := -1, 0.0
	for attrIndex, ev := range evals {
		if !ev.evaluated {
			continue
		}
		// Strictly greater: ties keep the first attribute in scan order.
		if bestAttr < 0 || ev.ratio > bestRatio {
			bestAttr, bestRatio = attrIndex, ev.ratio
		}
	}

	if bestAttr < 0 || bestRatio < b.cfg.MinGain {
		return b.makeLeaf(distribution, total, parentLabel), nil
	}

	childCounts, err := b.view.Split(path, bestAttr)
	if err != nil {
		return nil, err
	}

	majority := b.attrs[b.classIndex].NominalValues[Majority(distribution)]
	node := &Node{
		AttributeIndex: bestAttr,
		AttributeName:  b.attrs[bestAttr].Name,
		Children:       make([]*Node, b.attrs[bestAttr].NumValues()),
		DefaultChild: &Node{
			Leaf:              true,
			ClassLabel:        majority,
			ClassDistribution: distribution,
		},
	}

	used := make(map[int]bool, len(usedAttributes)+1)
	for k := range usedAttributes {
		used[k] = true
	}
	used[bestAttr] = true

	for v := range node.Children {
		if childCounts[v] == 0 {
			// Empty scope, no round needed: inherit the majority class.
			node.Children[v] = &Node{
				Leaf:              true,
				ClassLabel:        majority,
				ClassDistribution: make([]int64, len(distribution)),
			}
			continue
		}
		child, err := b.build(ChildPath(path, v), used, depth+1, majority)
		if err != nil {
			return nil, err
		}
		node.Children[v] = child
	}

	return node, nil
}

func (b *Builder) makeLeaf(distribution []int64, total int64, parentLabel string) *Node {
	label := parentLabel
	if total > 0 || parentLabel == "" {
		label = b.attrs[b.classIndex].NominalValues[Majority(distribution)]
	}
	return &Node{
		Leaf:              true,
		ClassLabel:        label,
		ClassDistribution: distribution,
	}
}

// Package tree holds the decision tree model and the recursive distributed
// builder. The builder never inspects rows itself: it consumes global
// statistics from a DataView, which the coordinator backs with secure sum
// rounds across the party ring.
package tree

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/xerrors"
)

// Node is one decision tree node, either internal or leaf. The numeric
// split fields (IsNumericSplit, Threshold, Left, Right) exist so trees with
// numeric splits stay representable and traversable; the distributed builder
// only ever produces nominal splits.
type Node struct {
	// Internal node fields.
	AttributeIndex int
	AttributeName  string
	IsNumericSplit bool
	Threshold      float64
	Left           *Node
	Right          *Node
	Children       []*Node
	DefaultChild   *Node

	// Leaf fields.
	Leaf              bool
	ClassLabel        string
	ClassDistribution []int64
}

// Predict walks the tree with a feature-name→value mapping and returns the
// class label of the reached leaf. Missing or unindexed feature values fall
// through to the default child.
func (n *Node) Predict(features map[string]float64) (string, error) {
	if n == nil {
		return "", xerrors.Errorf("nil tree node")
	}
	if n.Leaf {
		return n.ClassLabel, nil
	}

	value, ok := features[n.AttributeName]
	if !ok {
		if n.DefaultChild == nil {
			return "", xerrors.Errorf("no value for %q and no default branch", n.AttributeName)
		}
		return n.DefaultChild.Predict(features)
	}

	var next *Node
	if n.IsNumericSplit {
		if value <= n.Threshold {
			next = n.Left
		} else {
			next = n.Right
		}
	} else {
		idx := int(math.Round(value))
		if idx >= 0 && idx < len(n.Children) {
			next = n.Children[idx]
		}
	}

	if next == nil {
		next = n.DefaultChild
	}
	if next == nil {
		return "", xerrors.Errorf("no branch for %q=%v and no default branch", n.AttributeName, value)
	}
	return next.Predict(features)
}

// Render returns an indented textual dump of the tree.
func (n *Node) Render(valueNames func(attrIndex int) []string) string {
	var b strings.Builder
	n.render(&b, valueNames, "", "")
	return b.String()
}

func (n *Node) render(b *strings.Builder, valueNames func(int) []string, prefix, branch string) {
	if n == nil {
		fmt.Fprintf(b, "%s%s<missing>\n", prefix, branch)
		return
	}
	if n.Leaf {
		fmt.Fprintf(b, "%s%sleaf %q %v\n", prefix, branch, n.ClassLabel, n.ClassDistribution)
		return
	}
	fmt.Fprintf(b, "%s%ssplit on %s\n", prefix, branch, n.AttributeName)
	names := valueNames(n.AttributeIndex)
	for i, child := range n.Children {
		label := fmt.Sprintf("= %d ", i)
		if i < len(names) {
			label = fmt.Sprintf("= %s ", names[i])
		}
		child.render(b, valueNames, prefix+"  ", label)
	}
	if n.DefaultChild != nil {
		n.DefaultChild.render(b, valueNames, prefix+"  ", "default ")
	}
}

// Majority returns the index of the largest count, first index winning ties.
func Majority(distribution []int64) int {
	best := 0
	for i, c := range distribution {
		if c > distribution[best] {
			best = i
		}
	}
	return best
}

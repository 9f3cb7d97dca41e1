package dataset

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Partition is the vertical slice of a dataset held by one data party: the
// columns of its assigned attributes, row-aligned with every other party's
// slice. Row i refers to the same underlying record on every party.
type Partition struct {
	PartyID string

	// AttrIndexes are the global schema indexes of the held attributes, in
	// ascending order.
	AttrIndexes []int

	// Columns maps a global attribute index to that attribute's column.
	Columns map[int][]int

	// ClassIndex is the global index of the class attribute; HasClass tells
	// whether this party was assigned the class column.
	ClassIndex int
	HasClass   bool

	numRows int
}

// NumRows returns the (shared) record count.
func (p *Partition) NumRows() int {
	return p.numRows
}

// Holds reports whether the party owns the given attribute's column.
func (p *Partition) Holds(attrIndex int) bool {
	_, ok := p.Columns[attrIndex]
	return ok
}

// VerticalPartition extracts the columns of the given attributes from a
// fully loaded dataset.
func VerticalPartition(ds *Dataset, partyID string, attrIndexes []int) (*Partition, error) {
	p := &Partition{
		PartyID:     partyID,
		Columns:     map[int][]int{},
		ClassIndex:  ds.ClassIndex,
		numRows:     ds.NumRows(),
		AttrIndexes: append([]int{}, attrIndexes...),
	}
	sort.Ints(p.AttrIndexes)

	for _, idx := range p.AttrIndexes {
		if idx < 0 || idx >= len(ds.Attributes) {
			return nil, xerrors.Errorf("%w: attribute index %d out of schema", ErrDataFormat, idx)
		}
		column := make([]int, ds.NumRows())
		for r, row := range ds.Rows {
			column[r] = row[idx]
		}
		p.Columns[idx] = column
		if idx == ds.ClassIndex {
			p.HasClass = true
		}
	}
	return p, nil
}

// DistributeAttributes assigns non-class attributes to parties in roughly
// equal contiguous blocks; the class column goes to the last party. Returns
// one index list per party.
func DistributeAttributes(numAttributes, classIndex, numParties int) [][]int {
	assignment := make([][]int, numParties)
	nonClass := make([]int, 0, numAttributes-1)
	for i := 0; i < numAttributes; i++ {
		if i != classIndex {
			nonClass = append(nonClass, i)
		}
	}

	perParty := len(nonClass) / numParties
	remainder := len(nonClass) % numParties
	cursor := 0
	for p := 0; p < numParties; p++ {
		take := perParty
		if p < remainder {
			take++
		}
		assignment[p] = append(assignment[p], nonClass[cursor:cursor+take]...)
		cursor += take
	}
	assignment[numParties-1] = append(assignment[numParties-1], classIndex)
	return assignment
}

// FormatPartitioning renders an attribute assignment as the wire form used
// in the initiation message, one "<csv-indices>:<partyId>" entry per party.
func FormatPartitioning(partyIDs []string, assignment [][]int) []string {
	out := make([]string, len(partyIDs))
	for i, id := range partyIDs {
		indexes := make([]string, len(assignment[i]))
		for j, idx := range assignment[i] {
			indexes[j] = strconv.Itoa(idx)
		}
		out[i] = strings.Join(indexes, ",") + ":" + id
	}
	return out
}

// ParsePartitioning decodes "<csv-indices>:<partyId>" entries into a
// party→attribute-indexes map.
func ParsePartitioning(entries []string) (map[string][]int, error) {
	out := make(map[string][]int, len(entries))
	for _, entry := range entries {
		sep := strings.LastIndex(entry, ":")
		if sep <= 0 || sep == len(entry)-1 {
			return nil, xerrors.Errorf("%w: bad partitioning entry %q", ErrDataFormat, entry)
		}
		partyID := entry[sep+1:]
		for _, field := range strings.Split(entry[:sep], ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, xerrors.Errorf("%w: bad attribute index in %q", ErrDataFormat, entry)
			}
			out[partyID] = append(out[partyID], idx)
		}
	}
	return out, nil
}

// Owner returns the party holding the given attribute, or "" when the
// partitioning does not assign it.
func Owner(partitioning map[string][]int, attrIndex int) string {
	for partyID, indexes := range partitioning {
		for _, idx := range indexes {
			if idx == attrIndex {
				return partyID
			}
		}
	}
	return ""
}

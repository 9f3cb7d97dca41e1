// Package dataset loads tabular training data, vertically partitions it
// across parties, and parses single-record feature files for prediction.
package dataset

import (
	"bufio"
	"io"
	"math"
	"strings"

	"golang.org/x/xerrors"
)

// ErrDataFormat reports malformed dataset or record input. It surfaces to
// the caller before any network I/O begins.
var ErrDataFormat = xerrors.New("malformed input data")

// NumericBuckets is the number of buckets numeric values are discretized
// into.
const NumericBuckets = 10

// Kind distinguishes attribute types.
type Kind int

const (
	// Numeric attributes are binned into NumericBuckets buckets on load.
	Numeric Kind = iota
	// Nominal attributes take one of a declared, ordered set of values.
	Nominal
)

func (k Kind) String() string {
	if k == Nominal {
		return "nominal"
	}
	return "numeric"
}

// AttributeMetadata describes one attribute of the shared schema. Immutable
// once the schema is fixed; the index of an attribute in the schema is
// stable for the lifetime of one run.
type AttributeMetadata struct {
	Name          string
	Kind          Kind
	NominalValues []string
}

// NumValues returns the cardinality of a nominal attribute, NumericBuckets
// for a numeric one.
func (a AttributeMetadata) NumValues() int {
	if a.Kind == Nominal {
		return len(a.NominalValues)
	}
	return NumericBuckets
}

// Dataset is a fully loaded training table: pre-discretized rows over the
// shared schema. Missing values are stored as -1.
type Dataset struct {
	Name       string
	Attributes []AttributeMetadata
	Rows       [][]int
	ClassIndex int
}

// NumRows returns the number of records.
func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

// Load parses an ARFF-style dataset: an @relation line, @attribute lines
// declaring either a nominal value set in braces or a numeric type, and a
// @data section of comma-separated rows. The class attribute is the last
// declared one.
func Load(r io.Reader) (*Dataset, error) {
	ds := &Dataset{ClassIndex: -1}
	scanner := bufio.NewScanner(r)
	inData := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}

		if !inData {
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "@relation"):
				ds.Name = strings.Trim(strings.TrimSpace(line[len("@relation"):]), "\"'")
			case strings.HasPrefix(lower, "@attribute"):
				attr, err := parseAttribute(strings.TrimSpace(line[len("@attribute"):]))
				if err != nil {
					return nil, xerrors.Errorf("line %d: %w", lineNo, err)
				}
				ds.Attributes = append(ds.Attributes, attr)
			case strings.HasPrefix(lower, "@data"):
				if len(ds.Attributes) == 0 {
					return nil, xerrors.Errorf("%w: @data before any @attribute", ErrDataFormat)
				}
				inData = true
			default:
				return nil, xerrors.Errorf("%w: unexpected header line %d: %s", ErrDataFormat, lineNo, line)
			}
			continue
		}

		row, err := parseRow(line, ds.Attributes)
		if err != nil {
			return nil, xerrors.Errorf("line %d: %w", lineNo, err)
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrDataFormat, err)
	}
	if !inData {
		return nil, xerrors.Errorf("%w: no @data section", ErrDataFormat)
	}

	ds.ClassIndex = len(ds.Attributes) - 1
	return ds, nil
}

func parseAttribute(spec string) (AttributeMetadata, error) {
	name, rest := splitAttributeName(spec)
	if name == "" || rest == "" {
		return AttributeMetadata{}, xerrors.Errorf("%w: bad attribute declaration %q", ErrDataFormat, spec)
	}

	if strings.HasPrefix(rest, "{") {
		if !strings.HasSuffix(rest, "}") {
			return AttributeMetadata{}, xerrors.Errorf("%w: unterminated value set in %q", ErrDataFormat, spec)
		}
		values := strings.Split(rest[1:len(rest)-1], ",")
		for i := range values {
			values[i] = strings.Trim(strings.TrimSpace(values[i]), "\"'")
		}
		if len(values) == 0 || values[0] == "" {
			return AttributeMetadata{}, xerrors.Errorf("%w: empty value set in %q", ErrDataFormat, spec)
		}
		return AttributeMetadata{Name: name, Kind: Nominal, NominalValues: values}, nil
	}

	switch strings.ToLower(rest) {
	case "numeric", "real", "integer":
		return AttributeMetadata{Name: name, Kind: Numeric}, nil
	}
	return AttributeMetadata{}, xerrors.Errorf("%w: unsupported attribute type %q", ErrDataFormat, rest)
}

func splitAttributeName(spec string) (string, string) {
	if strings.HasPrefix(spec, "'") || strings.HasPrefix(spec, "\"") {
		quote := spec[0:1]
		end := strings.Index(spec[1:], quote)
		if end < 0 {
			return "", ""
		}
		return spec[1 : end+1], strings.TrimSpace(spec[end+2:])
	}
	fields := strings.SplitN(spec, " ", 2)
	if len(fields) != 2 {
		return "", ""
	}
	return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
}

func parseRow(line string, attrs []AttributeMetadata) ([]int, error) {
	fields := strings.Split(line, ",")
	if len(fields) != len(attrs) {
		return nil, xerrors.Errorf("%w: %d fields for %d attributes", ErrDataFormat, len(fields), len(attrs))
	}

	row := make([]int, len(fields))
	for i, field := range fields {
		field = strings.Trim(strings.TrimSpace(field), "\"'")
		if field == "?" {
			row[i] = -1
			continue
		}

		if attrs[i].Kind == Nominal {
			idx := -1
			for v, value := range attrs[i].NominalValues {
				if value == field {
					idx = v
					break
				}
			}
			if idx < 0 {
				return nil, xerrors.Errorf("%w: value %q not in %s's value set", ErrDataFormat, field, attrs[i].Name)
			}
			row[i] = idx
			continue
		}

		value, err := parseFloat(field)
		if err != nil {
			return nil, xerrors.Errorf("%w: bad numeric value %q for %s", ErrDataFormat, field, attrs[i].Name)
		}
		row[i] = DiscretizeNumeric(value)
	}
	return row, nil
}

// DiscretizeNumeric bins a numeric value into one of NumericBuckets buckets
// over [0,1]; values outside the unit interval clamp to the edge buckets.
func DiscretizeNumeric(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	if value <= 0.0 {
		return 0
	}
	if value >= 1.0 {
		return NumericBuckets - 1
	}
	return int(value * NumericBuckets)
}

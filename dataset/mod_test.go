package dataset

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const golfARFF = `% classic weather table
@relation golf
@attribute outlook {sunny, overcast, rainy}
@attribute humidity numeric
@attribute windy {TRUE, FALSE}
@attribute play {yes, no}
@data
sunny, 0.85, FALSE, no
overcast, 0.90, TRUE, yes
rainy, ?, FALSE, yes
`

func Test_dataset_load(t *testing.T) {
	ds, err := Load(strings.NewReader(golfARFF))
	require.NoError(t, err)

	require.Equal(t, "golf", ds.Name)
	require.Len(t, ds.Attributes, 4)
	require.Equal(t, 3, ds.ClassIndex)
	require.Equal(t, 3, ds.NumRows())

	require.Equal(t, Nominal, ds.Attributes[0].Kind)
	require.Equal(t, []string{"sunny", "overcast", "rainy"}, ds.Attributes[0].NominalValues)
	require.Equal(t, 3, ds.Attributes[0].NumValues())

	require.Equal(t, Numeric, ds.Attributes[1].Kind)
	require.Equal(t, NumericBuckets, ds.Attributes[1].NumValues())

	// nominal indexes, discretized numeric, missing marker
	require.Equal(t, []int{0, 8, 1, 1}, ds.Rows[0])
	require.Equal(t, []int{1, 9, 0, 0}, ds.Rows[1])
	require.Equal(t, []int{2, -1, 1, 0}, ds.Rows[2])
}

func Test_dataset_load_rejects_malformed(t *testing.T) {
	for _, tc := range []struct{ name, input string }{
		{"no data section", "@relation x\n@attribute a {u,v}\n"},
		{"data before attributes", "@relation x\n@data\n"},
		{"unterminated value set", "@relation x\n@attribute a {u,v\n@data\n"},
		{"unsupported type", "@relation x\n@attribute a string\n@data\n"},
		{"field count mismatch", "@relation x\n@attribute a {u,v}\n@attribute c {y,n}\n@data\nu\n"},
		{"unknown nominal value", "@relation x\n@attribute a {u,v}\n@attribute c {y,n}\n@data\nw,y\n"},
		{"stray header line", "@relation x\nbogus\n@data\n"},
	} {
		_, err := Load(strings.NewReader(tc.input))
		require.ErrorIs(t, err, ErrDataFormat, tc.name)
	}
}

func Test_dataset_load_quoted_attribute_names(t *testing.T) {
	input := "@relation q\n@attribute 'outlook today' {a, b}\n@attribute c {y, n}\n@data\na,y\n"
	ds, err := Load(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "outlook today", ds.Attributes[0].Name)
}

func Test_dataset_discretize_numeric(t *testing.T) {
	require.Equal(t, 0, DiscretizeNumeric(math.NaN()))
	require.Equal(t, 0, DiscretizeNumeric(-3.5))
	require.Equal(t, 0, DiscretizeNumeric(0.0))
	require.Equal(t, 0, DiscretizeNumeric(0.09))
	require.Equal(t, 4, DiscretizeNumeric(0.45))
	require.Equal(t, NumericBuckets-1, DiscretizeNumeric(0.99999))
	require.Equal(t, NumericBuckets-1, DiscretizeNumeric(1.0))
	require.Equal(t, NumericBuckets-1, DiscretizeNumeric(17.0))
}

func Test_dataset_parse_values_file(t *testing.T) {
	input := "outlook\t2\nwindy\tt\nhumid\tf\ntemp\t0.73\n"
	values, err := ParseValuesFile(strings.NewReader(input))
	require.NoError(t, err)

	require.Equal(t, 2.0, values["outlook"])
	require.Equal(t, 1.0, values["windy"])
	require.Equal(t, 0.0, values["humid"])
	require.InDelta(t, 0.73, values["temp"], 1e-9)
}

func Test_dataset_parse_values_file_malformed(t *testing.T) {
	_, err := ParseValuesFile(strings.NewReader("outlook\n"))
	require.ErrorIs(t, err, ErrDataFormat)

	_, err = ParseValuesFile(strings.NewReader("outlook\tnotanumber\n"))
	require.ErrorIs(t, err, ErrDataFormat)
}

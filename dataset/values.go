package dataset

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// ParseValuesFile reads a single-record feature file: one tab-separated
// "<featureName>\t<value>" pair per line. Values are numeric; the boolean
// literals "t" and "f" map to 1 and 0.
func ParseValuesFile(r io.Reader) (map[string]float64, error) {
	features := map[string]float64{}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("%w: line %d is not a tab-separated pair", ErrDataFormat, lineNo)
		}

		name := strings.TrimSpace(parts[0])
		raw := strings.TrimSpace(parts[1])

		var value float64
		switch raw {
		case "t":
			value = 1
		case "f":
			value = 0
		default:
			parsed, err := parseFloat(raw)
			if err != nil {
				return nil, xerrors.Errorf("%w: bad feature value %q on line %d", ErrDataFormat, raw, lineNo)
			}
			value = parsed
		}
		features[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrDataFormat, err)
	}
	return features, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

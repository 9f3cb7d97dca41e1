package cmd

import (
	"os"

	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/node"
	"github.com/privml/c50d/tree"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// CoordinatorConfig is the YAML run description handed to the coordinator
// command. The coordinator loads the dataset file only to fix the shared
// schema; the data columns stay with the parties.
type CoordinatorConfig struct {
	// Listen is the coordinator's bind address, e.g. "127.0.0.1:7000".
	Listen string `yaml:"listen"`

	// Dataset is the ARFF file defining the shared schema.
	Dataset string `yaml:"dataset"`

	// Ring lists the party IDs in ring order.
	Ring []string `yaml:"ring"`

	// Partitioning maps a party ID to the attribute indexes it holds. When
	// absent the attributes are distributed in contiguous blocks, the class
	// column going to the last ring party.
	Partitioning map[string][]int `yaml:"partitioning"`

	Tree TreeConfig `yaml:"tree"`
}

// TreeConfig is the YAML form of the builder's stopping parameters. Zero
// values fall back to the defaults.
type TreeConfig struct {
	MaxDepth     int     `yaml:"maxDepth"`
	MinInstances int     `yaml:"minInstances"`
	MinGain      float64 `yaml:"minGain"`
}

func (c TreeConfig) toTree() tree.Config {
	cfg := tree.DefaultConfig()
	if c.MaxDepth > 0 {
		cfg.MaxDepth = c.MaxDepth
	}
	if c.MinInstances > 0 {
		cfg.MinInstances = c.MinInstances
	}
	if c.MinGain > 0 {
		cfg.MinGain = c.MinGain
	}
	return cfg
}

// LoadCoordinatorConfig reads and validates a YAML run description.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read config: %w", err)
	}

	cfg := &CoordinatorConfig{}
	err = yaml.Unmarshal(raw, cfg)
	if err != nil {
		return nil, xerrors.Errorf("parse config: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.Dataset == "" {
		return nil, xerrors.New("config names no dataset file")
	}
	if len(cfg.Ring) == 0 {
		return nil, xerrors.New("config names no ring parties")
	}
	return cfg, nil
}

// RunConfig resolves the YAML description against the loaded schema into the
// coordinator's run parameters.
func (c *CoordinatorConfig) RunConfig(ds *dataset.Dataset) (node.RunConfig, error) {
	partitioning := c.Partitioning
	if len(partitioning) == 0 {
		assignment := dataset.DistributeAttributes(len(ds.Attributes), ds.ClassIndex, len(c.Ring))
		partitioning = make(map[string][]int, len(c.Ring))
		for i, id := range c.Ring {
			partitioning[id] = assignment[i]
		}
	} else {
		for _, id := range c.Ring {
			if len(partitioning[id]) == 0 {
				return node.RunConfig{}, xerrors.Errorf("partitioning assigns no attributes to %s", id)
			}
		}
	}

	return node.RunConfig{
		DatasetName:  ds.Name,
		Attributes:   ds.Attributes,
		ClassIndex:   ds.ClassIndex,
		NumRows:      ds.NumRows(),
		Ring:         c.Ring,
		Partitioning: partitioning,
		Tree:         c.Tree.toTree(),
	}, nil
}

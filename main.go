package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	cli "github.com/privml/c50d/cmd"
	"github.com/privml/c50d/tree"
)

func main() {
	command := &cobra.Command{
		Use: "c50d",
	}
	addCoordinatorCmd(command)
	addPartyCmd(command)
	addSimulateCmd(command)
	addPredictCmd(command)

	err := command.Execute()
	if err != nil {
		panic(err)
	}
}

// addCoordinatorCmd starts the coordinator of a distributed run.
func addCoordinatorCmd(command *cobra.Command) {
	var configPath string
	var daemon bool
	var verbose bool

	coordinatorCmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Start the run coordinator",
		Long:  "Start the coordinator, wait for the data parties, grow the tree and open the interactive console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel(verbose)
			return cli.StartCoordinator(configPath, daemon)
		},
	}

	coordinatorCmd.Flags().StringVarP(&configPath, "config", "c", "run.yaml", "Run description file")
	coordinatorCmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Exit after the run instead of opening the console")
	coordinatorCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at info level")

	command.AddCommand(coordinatorCmd)
}

// addPartyCmd starts one data party.
func addPartyCmd(command *cobra.Command) {
	var id string
	var listen string
	var coordinatorAddr string
	var dataFile string
	var verbose bool

	partyCmd := &cobra.Command{
		Use:   "party",
		Short: "Start a data party",
		Long:  "Start a data party holding one vertical slice, register with the coordinator and serve rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel(verbose)
			return cli.StartDataParty(id, listen, coordinatorAddr, dataFile)
		},
	}

	partyCmd.Flags().StringVarP(&id, "id", "i", "", "Party ID, must match the coordinator's ring entry")
	partyCmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:0", "Listen address")
	partyCmd.Flags().StringVarP(&coordinatorAddr, "coordinator", "c", "", "Coordinator address")
	partyCmd.Flags().StringVarP(&dataFile, "data", "f", "", "ARFF data file")
	partyCmd.MarkFlagRequired("id")
	partyCmd.MarkFlagRequired("coordinator")
	partyCmd.MarkFlagRequired("data")
	partyCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at info level")

	command.AddCommand(partyCmd)
}

// addSimulateCmd runs a whole distributed build in one process.
func addSimulateCmd(command *cobra.Command) {
	var dataFile string
	var numParties int
	var maxDepth int
	var minInstances int
	var minGain float64
	var verbose bool

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a distributed run in one process",
		Long:  "Run coordinator and parties over the in-memory transport and compare against the single-table build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel(verbose)
			cfg := tree.Config{MaxDepth: maxDepth, MinInstances: minInstances, MinGain: minGain}
			return cli.Simulate(dataFile, numParties, cfg)
		},
	}

	defaults := tree.DefaultConfig()
	simulateCmd.Flags().StringVarP(&dataFile, "data", "f", "", "ARFF data file")
	simulateCmd.MarkFlagRequired("data")
	simulateCmd.Flags().IntVarP(&numParties, "parties", "n", 3, "Number of data parties")
	simulateCmd.Flags().IntVar(&maxDepth, "max-depth", defaults.MaxDepth, "Maximum tree depth")
	simulateCmd.Flags().IntVar(&minInstances, "min-instances", defaults.MinInstances, "Minimum instances per node")
	simulateCmd.Flags().Float64Var(&minGain, "min-gain", defaults.MinGain, "Minimum gain ratio to split")
	simulateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at info level")

	command.AddCommand(simulateCmd)
}

// addPredictCmd classifies one record against a locally built tree.
func addPredictCmd(command *cobra.Command) {
	var dataFile string
	var valuesFile string

	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify a record against a locally built tree",
		Long:  "Build the tree from a locally held table and classify one tab-separated values file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel(false)
			return cli.Predict(dataFile, valuesFile, tree.DefaultConfig())
		},
	}

	predictCmd.Flags().StringVarP(&dataFile, "data", "f", "", "ARFF data file")
	predictCmd.Flags().StringVarP(&valuesFile, "values", "r", "", "Tab-separated record file")
	predictCmd.MarkFlagRequired("data")
	predictCmd.MarkFlagRequired("values")

	command.AddCommand(predictCmd)
}

func setLogLevel(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
}

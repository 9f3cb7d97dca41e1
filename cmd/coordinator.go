package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/node"
	"github.com/privml/c50d/transport/tcp"
	"github.com/privml/c50d/tree"
)

// -----------------------------------------------------------------------------
// Coordinator CMD Prompt

var coordinatorOpts = []string{
	"🌳 Show tree",
	"🔍 Predict",
	"🌱 Run again",
	"🍃 Exit",
}

var coordinatorActions = map[string]func(*coordinatorSession) error{
	coordinatorOpts[0]: showTree,
	coordinatorOpts[1]: predictFromFile,
	coordinatorOpts[2]: runAgain,
	coordinatorOpts[3]: exitCoordinator,
}

type coordinatorSession struct {
	coordinator *node.Coordinator
	run         node.RunConfig
}

// -----------------------------------------------------------------------------
// Start CMD

// StartCoordinator runs the coordinator process: it loads the run config,
// waits for the parties, grows the tree and then serves the interactive
// console (or returns right away as a daemon).
func StartCoordinator(configPath string, daemon bool) error {
	cfg, err := LoadCoordinatorConfig(configPath)
	if err != nil {
		return err
	}

	file, err := os.Open(cfg.Dataset)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(file)
	file.Close()
	if err != nil {
		return err
	}

	run, err := cfg.RunConfig(ds)
	if err != nil {
		return err
	}

	coordinator := node.NewCoordinator("coordinator", cfg.Listen, tcp.NewTCP())
	err = coordinator.Start()
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		coordinator.Stop()
		os.Exit(1)
	}()

	fmt.Printf("Coordinator listening on %s, waiting for %d parties\n",
		coordinator.Address(), len(run.Ring))

	root, err := coordinator.Run(run)
	if err != nil {
		coordinator.Stop()
		return err
	}
	fmt.Println("Tree complete:")
	fmt.Println(renderTree(root, run.Attributes))

	if daemon {
		return nil
	}

	session := &coordinatorSession{coordinator: coordinator, run: run}
	prompt := &survey.Select{
		Message: "What do you want to do ?",
		Options: coordinatorOpts,
	}

	var action string
	for {
		err := survey.AskOne(prompt, &action)
		if err != nil {
			printError(err)
			return coordinator.Stop()
		}

		err = coordinatorActions[action](session)
		if err != nil {
			printError(err)
		}
	}
}

// -----------------------------------------------------------------------------
// CMD Actions

func showTree(s *coordinatorSession) error {
	root := s.coordinator.Tree()
	if root == nil {
		return fmt.Errorf("no tree built yet")
	}
	fmt.Println(renderTree(root, s.run.Attributes))
	return nil
}

func predictFromFile(s *coordinatorSession) error {
	root := s.coordinator.Tree()
	if root == nil {
		return fmt.Errorf("no tree built yet")
	}

	path := ""
	err := survey.AskOne(&survey.Input{Message: "Values file:"}, &path)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	values, err := dataset.ParseValuesFile(file)
	if err != nil {
		return err
	}

	label, err := root.Predict(values)
	if err != nil {
		return err
	}
	fmt.Printf("Predicted class: %s\n", label)
	return nil
}

func runAgain(s *coordinatorSession) error {
	root, err := s.coordinator.Run(s.run)
	if err != nil {
		return err
	}
	fmt.Println("Tree complete:")
	fmt.Println(renderTree(root, s.run.Attributes))
	return nil
}

func exitCoordinator(s *coordinatorSession) error {
	s.coordinator.Stop()
	os.Exit(0)
	return nil
}

func printError(err error) {
	fmt.Println("⛔ ", err)
}

func renderTree(root *tree.Node, attrs []dataset.AttributeMetadata) string {
	return root.Render(func(attrIndex int) []string {
		return attrs[attrIndex].NominalValues
	})
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/privml/c50d/dataset"
	"github.com/privml/c50d/node"
	"github.com/privml/c50d/transport/tcp"
)

// StartDataParty runs a data party process: it loads the local copy of the
// dataset, registers with the coordinator and serves rounds until
// interrupted.
func StartDataParty(id, listen, coordinatorAddr, dataFile string) error {
	file, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(file)
	file.Close()
	if err != nil {
		return err
	}

	party := node.NewDataParty(id, listen, tcp.NewTCP(), coordinatorAddr, ds)
	err = party.Start()
	if err != nil {
		return err
	}
	fmt.Printf("Party %s listening on %s, registered with %s\n",
		id, party.Address(), coordinatorAddr)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	return party.Stop()
}

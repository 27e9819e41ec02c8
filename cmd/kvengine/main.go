package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "kvengine",
		Short: "Embedded transactional key-value engine with a Redis-wire front-end",
	}
	root.AddCommand(newServerCommand())
	root.AddCommand(newClientCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

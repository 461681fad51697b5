package main

import (
	"fmt"
	"os"
)

func main() {
	command := NewRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

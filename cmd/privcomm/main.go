package main

import (
	"os"

	"privcomm/cmd/privcomm/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/devloop-dev/devloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

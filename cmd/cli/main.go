package main

import (
	"os"

	"github.com/agorad-dev/agorad/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

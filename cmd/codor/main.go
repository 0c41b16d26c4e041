package main

import (
	"os"

	"github.com/codor-dev/codor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

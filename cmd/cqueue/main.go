package main

import (
	"os"

	"github.com/downfa11-org/cursus-queue/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/toolbridge/toolbridge/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

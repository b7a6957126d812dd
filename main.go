package main

import (
	"os"

	"github.com/leftmike/egdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/bosley/voechoal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

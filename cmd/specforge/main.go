package main

import (
	"os"

	"github.com/solatis/specforge/cmd/specforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

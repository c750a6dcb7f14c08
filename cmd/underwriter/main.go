package main

import (
	"os"

	"github.com/commissiontracker/underwriter/cmd/underwriter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

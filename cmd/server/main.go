package main

import (
	"os"

	"github.com/ticketx/ledger-engine/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"invoice-reconciliation-backend/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/nexuscrm/mycrm/cmd/crmctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/alal76/crm-solution-sub000/cmd/workflowd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/hannes/role-anonymizer/src/backend/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

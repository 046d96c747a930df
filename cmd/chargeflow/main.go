package main

import (
	"os"

	"github.com/smallbiznis/chargeflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

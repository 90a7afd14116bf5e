package main

import (
	"fmt"
	"os"

	"resolvd/internal/cli"
)

func main() {
	if err := cli.BuildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

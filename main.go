package main

import (
	"fmt"
	"os"

	"github.com/kbtz/kbtz-workspace/cmd"
)

var version = "0.1.0"

func main() {
	cmd.Version = version
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

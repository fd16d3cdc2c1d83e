// Command siftd runs the sift task scheduler and search runtime.
package main

import (
	"fmt"
	"os"

	"github.com/siftengine/sift/cmd/siftd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

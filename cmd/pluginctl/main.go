// Command pluginctl manages plughost plugins.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dshills/plughost/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), cli.Options{}, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

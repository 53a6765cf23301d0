package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lexsia228/M55-soul/internal/cli"
	"github.com/lexsia228/M55-soul/pkg/halt"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Diagnostics already went to the developer channel; the user
		// sees only the non-diagnostic status line.
		if errors.Is(err, halt.ErrHalted) {
			fmt.Fprintln(os.Stderr, halt.StatusMessage)
			os.Exit(3)
		}
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

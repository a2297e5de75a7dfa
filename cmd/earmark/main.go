package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			// Interrupted runs exit with the conventional SIGINT status.
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "earmark:", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/AlfredBerg/rod-capture/cmd"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// Fit GOMAXPROCS to the container CPU quota, the batch concurrency derives from it.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rod-capture:", err)
		os.Exit(cmd.ExitCode(err))
	}
}

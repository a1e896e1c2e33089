package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmueller/whisperjson/internal/cli"
	"github.com/fmueller/whisperjson/internal/transcript"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes the root command and renders any error that escapes it as an
// error record on stdout.
func run(args []string, stdout io.Writer) int {
	cmd := cli.NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	message := err.Error()
	if shouldPrintUsageHint(err) {
		message = fmt.Sprintf("%s. Run '%s --help' for usage.", message, cmd.Name())
	}
	if werr := transcript.WriteError(stdout, message); werr != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"invalid argument",
		"bad flag syntax",
	}

	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}

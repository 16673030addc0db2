package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// cliConfig mirrors mythping.c's getopt_long options: a bare backend
// argument plus -v/--verbose (repeatable) and this client's -diag addition.
type cliConfig struct {
	backend     string
	port        int
	verbose     int
	diag        bool
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mythping", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.IntVar(&cfg.port, "port", 6543, "backend control port")
	fs.BoolVar(&cfg.diag, "diag", false, "include a local host diagnostics snapshot")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	// getopt_long's -v is repeatable (verbose++ per occurrence in
	// mythping.c); flag.Bool only tracks presence, so count it ourselves
	// before stripping it for fs.Parse.
	var rest []string
	for _, a := range args {
		if a == "-v" || a == "--verbose" {
			cfg.verbose++
			continue
		}
		rest = append(rest, a)
	}

	if err := fs.Parse(rest); err != nil {
		return nil, err
	}

	if fs.NArg() == 0 && !cfg.showVersion {
		return nil, fmt.Errorf("no backend given")
	}
	if fs.NArg() > 0 {
		cfg.backend = fs.Arg(0)
	}
	return cfg, nil
}

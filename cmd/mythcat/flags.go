package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// cliConfig mirrors mythcat.c's -h/-t options plus the positional
// <backend> <filename> pair.
type cliConfig struct {
	backend     string
	filename    string
	port        int
	thumbnail   bool
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mythcat", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.IntVar(&cfg.port, "port", 6543, "backend control port")
	fs.BoolVar(&cfg.thumbnail, "t", false, "get the recording thumbnail")
	fs.BoolVar(&cfg.thumbnail, "thumbnail", false, "get the recording thumbnail")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.showVersion {
		return cfg, nil
	}
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("no server given")
	}
	if fs.NArg() == 1 {
		return nil, fmt.Errorf("no file given")
	}
	cfg.backend = fs.Arg(0)
	cfg.filename = fs.Arg(1)
	return cfg, nil
}

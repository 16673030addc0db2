package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// cliConfig mirrors mythlive.c's --channel/--megabytes/--number/--random/
// --seconds/--verbose options plus the positional <backend>.
type cliConfig struct {
	backend     string
	port        int
	channel     string
	megabytes   int
	number      int
	random      bool
	seconds     int
	verbose     int
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mythlive", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.IntVar(&cfg.port, "port", 6543, "backend control port")
	fs.StringVar(&cfg.channel, "channel", "", "channel to tune before capturing")
	fs.IntVar(&cfg.megabytes, "megabytes", 32, "megabytes to capture per channel")
	fs.IntVar(&cfg.number, "number", 1, "number of channels to capture")
	fs.BoolVar(&cfg.random, "random", false, "change to a random channel between captures")
	fs.IntVar(&cfg.seconds, "seconds", 0, "seconds to capture per channel (0: use -megabytes instead)")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

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
	if cfg.showVersion {
		return cfg, nil
	}
	if fs.NArg() == 0 {
		return nil, fmt.Errorf("no backend given")
	}
	cfg.backend = fs.Arg(0)
	return cfg, nil
}

package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

// cliConfig mirrors mythfuse.c's -p (port) option plus the mountpoint and
// backend positional arguments, and this client's --allow-other addition
// for the underlying go-fuse mount.
type cliConfig struct {
	backend     string
	mountpoint  string
	port        int
	allowOther  bool
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mythfuse", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.IntVar(&cfg.port, "port", 6543, "backend control port")
	fs.BoolVar(&cfg.allowOther, "allow-other", false, "allow other users to access the mount")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.showVersion {
		return cfg, nil
	}
	if fs.NArg() < 2 {
		return nil, fmt.Errorf("usage: mythfuse [options] <backend> <mountpoint>")
	}
	cfg.backend = fs.Arg(0)
	cfg.mountpoint = fs.Arg(1)
	return cfg, nil
}

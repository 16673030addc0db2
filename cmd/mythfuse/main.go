// Command mythfuse mounts a backend's recordings as flat files under
// <mountpoint>/recordings, backed by myth/fuse. Grounded on
// original_source/src/mythfuse.c's overall shape: one control connection
// to the backend, a FUSE filesystem exposing the recordings list.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/fuse"
	"github.com/gomyth/cmyth/myth/handshake"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	master, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection to %s failed: %v\n", cfg.backend, err)
		os.Exit(1)
	}
	defer master.Close()

	if err := fuse.Mount(cfg.mountpoint, master, cfg.backend, cfg.port, cfg.allowOther); err != nil {
		fmt.Fprintf(os.Stderr, "mount failed: %v\n", err)
		os.Exit(1)
	}
}

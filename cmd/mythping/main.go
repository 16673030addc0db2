// Command mythping probes a MythTV backend: whether it accepts a control
// connection, and at increasing -v levels, the negotiated protocol
// version, the recordings count, and a sample Event Channel message.
// Grounded on original_source/src/mythping.c's is_alive/verbose cascade.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/event"
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		fmt.Printf("%s is not alive: %v\n", cfg.backend, err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("%s is alive\n", cfg.backend)

	if cfg.verbose > 0 {
		fmt.Printf("  protocol version: %d\n", c.Version())

		list, err := c.Recordings()
		if err != nil {
			fmt.Printf("  recordings: error: %v\n", err)
		} else {
			fmt.Printf("  recordings: %d\n", len(list.Programs))
			for i, p := range list.Programs {
				fmt.Printf("    %d: %s\n", i, p.Title)
				if cfg.verbose > 2 {
					fmt.Printf("       subtitle=%q channel=%q\n", p.Subtitle, p.ChanName)
				}
				if cfg.verbose > 3 {
					fmt.Printf("       description=%q category=%q\n", p.Description, p.Category)
				}
				if cfg.verbose > 4 {
					fmt.Printf("       pathname=%q bytes=%s\n", p.Pathname, humanize.Bytes(uint64(p.LengthBytes)))
				}
			}
		}

		printSampleEvent(ctx, cfg)
	}

	if cfg.diag {
		printDiagnostics()
	}
}

// printSampleEvent opens a dedicated Event Channel connection and waits up
// to one second for a single message, matching mythping.c's -v event probe.
func printSampleEvent(ctx context.Context, cfg *cliConfig) {
	evConn, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RoleEvent})
	if err != nil {
		fmt.Printf("  event channel: error: %v\n", err)
		return
	}
	defer evConn.Close()

	_ = evConn.Transport().Conn().SetReadDeadline(time.Now().Add(1 * time.Second))
	evCh := event.NewChannel(evConn.Transport())
	ev, err := evCh.GetEvent()
	_ = evConn.Transport().Conn().SetReadDeadline(time.Time{})
	if err != nil {
		fmt.Println("  event channel: no message within 1s")
		return
	}
	fmt.Printf("  event channel: %s %s\n", ev.Kind, ev.Payload)
}

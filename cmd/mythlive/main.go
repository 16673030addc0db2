// Command mythlive captures live TV from a free recorder across a run of
// channels, writing each capture to its own file and optionally stepping
// to the next channel (sequentially or at random) between captures.
// Grounded on original_source/src/mythlive.c's get_livetv/livetv_capture/
// next_channel.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/myth/chain"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/event"
	"github.com/gomyth/cmyth/myth/handshake"
	"github.com/gomyth/cmyth/myth/recorder"
)

const transferSize = 128 * 1024

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	control, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		fmt.Fprintln(os.Stderr, "connection failed!")
		os.Exit(1)
	}
	defer control.Close()

	if err := getLiveTV(ctx, control, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "livetv failed: %v\n", err)
		os.Exit(1)
	}
}

func getLiveTV(ctx context.Context, control *conn.Connection, cfg *cliConfig) error {
	rec, err := recorder.FreeRecorder(ctx, control.Transport(), control.Version(), nil)
	if err != nil {
		return err
	}
	defer rec.Release()

	result, err := rec.SpawnLiveTV(fmt.Sprintf("mythlive-%d", time.Now().UnixNano()))
	if err != nil {
		return fmt.Errorf("cmyth_livetv_start() failed: %w", err)
	}
	_ = result

	evConn, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RoleEvent})
	if err != nil {
		return err
	}
	defer evConn.Close()
	evCh := event.NewChannel(evConn.Transport())
	go evCh.Run()

	ch, err := chain.SpawnLiveTV(rec, control.Transport(), cfg.backend, cfg.port, control.Version(), evCh, nil)
	if err != nil {
		return err
	}

	if cfg.channel != "" {
		if err := rec.SetChannel(cfg.channel); err != nil {
			return fmt.Errorf("cmyth_livetv_set_channel() failed: %w", err)
		}
	}

	for i := 0; i < cfg.number; i++ {
		filename := captureFilename(rec, i)

		if err := liveTVCapture(ctx, ch, filename, cfg.megabytes, cfg.seconds); err != nil {
			return fmt.Errorf("livetv_capture() failed: %w", err)
		}

		if i < cfg.number-1 {
			if err := nextChannel(rec, cfg.random); err != nil {
				return fmt.Errorf("change channel failed: %w", err)
			}
		}
	}

	if err := rec.StopLiveTV(); err != nil {
		fmt.Fprintln(os.Stderr, "stopping live TV failed!")
	}

	for i := 0; i < ch.Len(); i++ {
		p, err := ch.Program(i)
		if err != nil {
			continue
		}
		if cfg.verbose > 2 {
			fmt.Printf("delete prog %s\n", p.Pathname)
		}
		_ = control.DeleteRecording(p)
	}

	return nil
}

var invalidFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func captureFilename(rec *recorder.Recorder, i int) string {
	prog, err := rec.CurrentProgram()
	if err != nil || prog.ChanName == "" {
		return fmt.Sprintf("livetv_%02d.mpg", i)
	}
	name := invalidFilenameChars.ReplaceAllString(strings.TrimSpace(prog.ChanName), "_")
	return fmt.Sprintf("livetv_%02d-%s.mpg", i, name)
}

// liveTVCapture pulls blocks from ch until either megabytes or seconds
// (whichever the caller set) is reached, writing to file. Matches
// mythlive.c's livetv_capture loop.
func liveTVCapture(ctx context.Context, ch *chain.Chain, filename string, mb, seconds int) error {
	fmt.Printf("Capturing to %s\n", filename)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	targetBytes := int64(mb) * 1024 * 1024
	var deadline time.Time
	if seconds > 0 {
		deadline = time.Now().Add(time.Duration(seconds) * time.Second)
	}

	buf := make([]byte, transferSize)
	var total int64
	for {
		if deadline.IsZero() {
			if total >= targetBytes {
				break
			}
		} else if time.Now().After(deadline) {
			break
		}

		granted, err := ch.RequestBlock(ctx, transferSize)
		if err != nil {
			return err
		}
		if granted == 0 {
			break
		}
		n, err := ch.GetBlock(buf, int(granted))
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return err
		}
		total += int64(n)
	}
	return nil
}

// nextChannel either jumps to a random channel from the recorder's
// chanlist or steps up one channel, matching mythlive.c's next_channel.
func nextChannel(rec *recorder.Recorder, random bool) error {
	if random {
		list := rec.Chanlist()
		if len(list.Channels) == 0 {
			return fmt.Errorf("no channels available")
		}
		pick := list.Channels[rand.Intn(len(list.Channels))]
		return rec.SetChannel(pick.Name)
	}
	return rec.ChangeChannel(recorder.DirUp)
}

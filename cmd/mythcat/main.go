// Command mythcat dumps a recording (or, with -t, its thumbnail) to
// stdout by matching a filename against the backend's recordings list and
// streaming it over a dedicated FileTransfer connection. Grounded on
// original_source/src/mythcat.c's cat_file/dump_prog.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gomyth/cmyth/internal/logger"
	"github.com/gomyth/cmyth/myth/conn"
	"github.com/gomyth/cmyth/myth/filetransfer"
	"github.com/gomyth/cmyth/myth/handshake"
	"github.com/gomyth/cmyth/myth/program"
)

const blockSize = 128 * 1024

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

	control, err := conn.Open(ctx, cfg.backend, cfg.port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s is not responding.\n", cfg.backend)
		os.Exit(1)
	}
	defer control.Close()

	list, err := control.Recordings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No recordings found!")
		os.Exit(1)
	}

	p, ok := findRecording(list, cfg.filename)
	if !ok {
		fmt.Fprintln(os.Stderr, "Recording not found!")
		os.Exit(1)
	}

	if err := dumpProgram(ctx, p, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to read file!")
		os.Exit(1)
	}
}

// findRecording matches file against a program's pathname, treating a
// leading '/' as optional on either side, matching mythcat.c's
// pathname[0]=='/' branch in cat_file.
func findRecording(list program.List, file string) (program.Info, bool) {
	for _, p := range list.Programs {
		pathname := strings.TrimPrefix(p.Pathname, "/")
		if pathname == strings.TrimPrefix(file, "/") {
			return p, true
		}
	}
	return program.Info{}, false
}

func dumpProgram(ctx context.Context, p program.Info, cfg *cliConfig) error {
	port := cfg.port
	if p.Port != 0 {
		port = int(p.Port)
	}
	control, err := conn.Open(ctx, p.Host, port, conn.Options{Role: handshake.RolePlayback})
	if err != nil {
		return err
	}
	defer control.Close()

	data, err := conn.Open(ctx, p.Host, port, conn.Options{
		Role:     handshake.RoleFileTransfer,
		Pathname: p.Pathname,
	})
	if err != nil {
		return err
	}
	defer data.Close()

	reply := data.FileTransferReply()
	ft := filetransfer.New(control.Transport(), data.Transport(), reply.FileID, reply.FileLength, control.Version(), filetransfer.Options{})

	length := p.LengthBytes
	if cfg.thumbnail {
		// The thumbnail's size is unknown ahead of time; read until the
		// backend reports exhaustion, matching dump_prog's INT_MAX loop
		// bound for thumbnails.
		length = 1<<62 - 1
	}

	buf := make([]byte, blockSize)
	var cur int64
	start := time.Now()
	for cur < length {
		if _, err := ft.Seek(cur, filetransfer.SeekSet); err != nil {
			break
		}
		n, err := fillBuffer(ctx, ft, buf)
		if n <= 0 || err != nil {
			break
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			return err
		}
		cur += int64(n)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stderr, "%s in %s\n", humanize.Bytes(uint64(cur)), elapsed.Round(time.Millisecond))

	if cur == length || (cfg.thumbnail && cur > 0) {
		return nil
	}
	return fmt.Errorf("short read: got %d of %d bytes", cur, length)
}

// fillBuffer requests and drains one block, matching mythcat.c's
// fill_buffer: request once, then read until the granted length is
// consumed.
func fillBuffer(ctx context.Context, ft *filetransfer.FileTransfer, buf []byte) (int, error) {
	granted, err := ft.RequestBlock(ctx, len(buf))
	if err != nil {
		return 0, err
	}
	total := 0
	for int64(total) < granted {
		n, err := ft.GetBlock(buf[total:], int(granted)-total)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

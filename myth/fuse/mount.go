package fuse

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gomyth/cmyth/myth/conn"
)

// Mount mounts the recordings filesystem at mountPoint and blocks until the
// process receives SIGINT/SIGTERM, grounded on vodfs/mount.go's
// Mount/MountWithAllowOther shape.
func Mount(mountPoint string, master *conn.Connection, host string, port int, allowOther bool) error {
	root := New(master, host, port, nil)

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: allowOther,
			FsName:     "mythfuse",
		},
	}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = server.Unmount()
	}()

	server.Wait()
	return nil
}

// Package mount is the composition root: it wires a Config into a running
// mounted filesystem, mirroring the upstream gcsfuse cmd/mount.go's
// mountWithStorageHandle.
package mount

import (
	"context"
	"fmt"
	stdlog "log"
	"log/slog"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/chatfs/chatfs/internal/backend"
	"github.com/chatfs/chatfs/internal/cache"
	"github.com/chatfs/chatfs/internal/cfg"
	"github.com/chatfs/chatfs/internal/clock"
	"github.com/chatfs/chatfs/internal/fsadapter"
	"github.com/chatfs/chatfs/internal/logger"
	"github.com/chatfs/chatfs/internal/metaops"
	"github.com/chatfs/chatfs/internal/store"
)

// minNoFileLimit is the open-file rlimit chatfs tries to raise to before
// mounting. A FUSE mount that serves many small files can easily exceed the
// usual 1024 default between the kernel's own fds and the backend client's
// connections.
const minNoFileLimit = 8192

// ClientFactory builds the messaging backend client for c. Injected so that
// main.go supplies the concrete client while tests supply backend/fake.
type ClientFactory func(ctx context.Context, c cfg.Config) (backend.Client, error)

// Mount builds the full dependency chain -- backend, store, cache,
// fsadapter -- and mounts it at c.MountPoint, returning the
// fuse.MountedFileSystem so the caller can Join to wait for unmount.
func Mount(ctx context.Context, c cfg.Config, newClient ClientFactory) (*fuse.MountedFileSystem, error) {
	log := logger.New(logger.Config{
		FilePath:   c.Log.FilePath,
		Severity:   logger.Severity(c.Log.Severity),
		Format:     string(c.Log.Format),
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	})

	raiseNoFileLimit(log)

	client, err := newClient(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("mount: build backend client: %w", err)
	}

	peer := backend.Peer{UserID: c.Peer.UserID, AccessHash: c.Peer.AccessHash}
	ops := metaops.New(client, peer)
	st := store.New(ops, peer)
	ch := cache.New()

	adapter := fsadapter.New(st, ch, clock.RealClock{}, log)
	server := fuseutil.NewFileSystemServer(adapter)

	mountCfg := &fuse.MountConfig{
		FSName:      "chatfs",
		Subtype:     "chatfs",
		VolumeName:  "chatfs",
		ErrorLogger: stdlog.New(slogWriter{log}, "fuse: ", 0),
	}

	log.Info("mounting", "mount_point", c.MountPoint)
	mfs, err := fuse.Mount(c.MountPoint, server, mountCfg)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	return mfs, nil
}

// raiseNoFileLimit bumps RLIMIT_NOFILE's soft limit up to its hard limit
// (capped at minNoFileLimit), logging rather than failing the mount if the
// kernel won't allow it.
func raiseNoFileLimit(log *slog.Logger) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Warn("getrlimit RLIMIT_NOFILE failed", "err", err)
		return
	}

	want := uint64(minNoFileLimit)
	if limit.Max < want {
		want = limit.Max
	}
	if limit.Cur >= want {
		return
	}

	limit.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		log.Warn("setrlimit RLIMIT_NOFILE failed", "err", err)
	}
}

// slogWriter adapts an *slog.Logger to the io.Writer a stdlib *log.Logger
// needs, so the fuse package's own internal logging lands in our
// structured log stream instead of a second, unstructured one.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Error(string(p))
	return len(p), nil
}

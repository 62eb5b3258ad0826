// Command chatfs mounts a chat conversation as a local FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chatfs/chatfs/cmd"
	"github.com/chatfs/chatfs/internal/backend"
	"github.com/chatfs/chatfs/internal/cfg"
)

func main() {
	if err := cmd.Execute(context.Background(), newClient); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient is the production backend.Client constructor. It is kept out
// of internal/mount and cmd so that the concrete messaging
// transport dependency is only ever linked into the final binary, not into
// tests, which use internal/backend/fake instead.
func newClient(ctx context.Context, c cfg.Config) (backend.Client, error) {
	return nil, fmt.Errorf("chatfs: no messaging backend wired; see internal/backend.Client for the interface a real transport must satisfy")
}

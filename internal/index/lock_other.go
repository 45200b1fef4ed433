//go:build !unix

package index

import (
	"context"
	"sync"
)

// processLocks serialises builders within this process. Other processes are
// not excluded on this platform: a single writer per collection is assumed.
var processLocks sync.Map

// Lock takes an in-process lock keyed by path.
func Lock(ctx context.Context, path string) (func() error, error) {
	v, _ := processLocks.LoadOrStore(path, make(chan struct{}, 1))
	ch := v.(chan struct{})
	select {
	case ch <- struct{}{}:
		return func() error { <-ch; return nil }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

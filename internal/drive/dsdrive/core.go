package dsdrive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/mirror/internal/drive"
)

// downloadConcurrency bounds parallel block fetches per Download.
const downloadConcurrency = 4

var _ drive.BlobStore = (*Core)(nil)

// Core is a drive's block store. On replicas it downloads missing blocks
// from the origin and notifies subscribers of every block moved.
type Core struct {
	d *Drive

	mu       sync.Mutex
	subs     map[int]func(drive.Transfer)
	nextSub  int
	inflight map[uint64]chan struct{}
}

func newCore(d *Drive) *Core {
	return &Core{
		d:        d,
		subs:     make(map[int]func(drive.Transfer)),
		inflight: make(map[uint64]chan struct{}),
	}
}

// Subscribe registers fn for every block uploaded or downloaded.
func (c *Core) Subscribe(fn func(drive.Transfer)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Core) emit(t drive.Transfer) {
	c.mu.Lock()
	fns := make([]func(drive.Transfer), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// Has reports whether block i is stored locally.
func (c *Core) Has(ctx context.Context, i uint64) (bool, error) {
	return c.d.ds.Has(ctx, blockKey(i))
}

//nolint:ireturn // implements drive.BlobStore
func (c *Core) Download(ctx context.Context, start, length uint64) (drive.Download, error) {
	var missing []uint64
	for i := start; i < start+length; i++ {
		has, err := c.Has(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("check block %d: %w", i, err)
		}
		if !has {
			missing = append(missing, i)
		}
	}

	dl := &download{done: make(chan struct{})}
	if len(missing) == 0 || c.d.origin == nil {
		close(dl.done)
		return dl, nil
	}
	dl.pending = uint64(len(missing))

	go func() {
		defer close(dl.done)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(downloadConcurrency)
		for _, i := range missing {
			g.Go(func() error {
				_, err := c.fetch(gctx, i)
				return err
			})
		}
		dl.err = g.Wait()
	}()
	return dl, nil
}

// fetch returns the stored bytes of block i, downloading it from the
// origin when this is a replica that lacks it.
func (c *Core) fetch(ctx context.Context, i uint64) ([]byte, error) {
	raw, err := c.d.ds.Get(ctx, blockKey(i))
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, datastore.ErrNotFound) {
		return nil, fmt.Errorf("get block %d: %w", i, err)
	}
	if c.d.origin == nil {
		return nil, fmt.Errorf("block %d: %w", i, drive.ErrNotFound)
	}
	return c.download(ctx, i)
}

// download fetches block i from the origin, collapsing concurrent requests
// for the same block into one transfer.
func (c *Core) download(ctx context.Context, i uint64) ([]byte, error) {
	for {
		c.mu.Lock()
		if ch, ok := c.inflight[i]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			raw, err := c.d.ds.Get(ctx, blockKey(i))
			if err == nil {
				return raw, nil
			}
			if !errors.Is(err, datastore.ErrNotFound) {
				return nil, fmt.Errorf("get block %d: %w", i, err)
			}
			continue // the other request failed; try again ourselves
		}
		// A request that finished since our caller looked has stored it.
		if raw, err := c.d.ds.Get(ctx, blockKey(i)); err == nil {
			c.mu.Unlock()
			return raw, nil
		}
		ch := make(chan struct{})
		c.inflight[i] = ch
		c.mu.Unlock()

		raw, err := c.d.origin.core.serve(ctx, i)
		if err == nil {
			err = c.d.ds.Put(ctx, blockKey(i), raw)
		}

		c.mu.Lock()
		delete(c.inflight, i)
		close(ch)
		c.mu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("download block %d: %w", i, err)
		}
		c.emit(drive.Transfer{Direction: drive.Downloaded, Index: i, Bytes: len(raw)})
		return raw, nil
	}
}

// serve hands block i to a replica.
func (c *Core) serve(ctx context.Context, i uint64) ([]byte, error) {
	raw, err := c.fetch(ctx, i)
	if err != nil {
		return nil, err
	}
	c.emit(drive.Transfer{Direction: drive.Uploaded, Index: i, Bytes: len(raw)})
	return raw, nil
}

type download struct {
	done    chan struct{}
	pending uint64
	err     error
}

func (dl *download) Pending() (uint64, bool) {
	return dl.pending, dl.pending > 0
}

func (dl *download) Wait(ctx context.Context) error {
	select {
	case <-dl.done:
		return dl.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

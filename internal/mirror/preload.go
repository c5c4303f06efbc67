package mirror

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/mirror/internal/drive"
)

// startPreload warms the source block store in the background. It never
// affects the pass: failures are logged and dropped.
func (m *Mirror) startPreload(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.stopPreload = cancel
	go func() {
		if err := m.preload(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Debug("preload failed", "error", err)
		}
	}()
}

// preload requests every in-scope source blob's block range, records how
// many blocks those requests must fetch as the progress estimate, and
// waits for them. Ranges whose size is unknown are left out of the
// estimate, so it can fall short.
func (m *Mirror) preload(ctx context.Context) error {
	var blobs []*drive.Blob
	for _, sc := range m.scopes {
		for l, err := range m.enumerate(ctx, m.src, sc, fromSource, sc.src, m.opts.Ignore) {
			if err != nil {
				return err
			}
			if l.entry == nil || l.entry.Blob == nil || l.entry.Blob.BlockLength == 0 || !m.keep(l.key) {
				continue
			}
			blobs = append(blobs, l.entry.Blob)
		}
	}

	downloads := make([]drive.Download, 0, len(blobs))
	for _, b := range blobs {
		dl, err := m.blobs.Download(ctx, b.BlockOffset, b.BlockLength)
		if err != nil {
			return fmt.Errorf("download blocks %d+%d: %w", b.BlockOffset, b.BlockLength, err)
		}
		downloads = append(downloads, dl)
	}

	estimate := m.download.Blocks()
	for _, dl := range downloads {
		if n, ok := dl.Pending(); ok {
			estimate += n
		}
	}
	m.estimate.Store(estimate)
	m.log.Debug("preload requested", "ranges", len(downloads), "estimate", estimate)

	g, gctx := errgroup.WithContext(ctx)
	for _, dl := range downloads {
		g.Go(func() error { return dl.Wait(gctx) })
	}
	return g.Wait()
}

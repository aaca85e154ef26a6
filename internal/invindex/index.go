package invindex

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idb/internal/cache"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/resource"
)

// LeafKey identifies cached postings. Name separates indexes sharing a cache.
type LeafKey struct {
	Name string
	Unit string
}

// LeafCache caches the effective postings of units.
type LeafCache = cache.LRU[LeafKey, *roaring64.Bitmap]

// NewLeafCache creates a leaf cache holding up to n postings lists.
func NewLeafCache(n int64) *LeafCache {
	return cache.NewLRU[LeafKey, *roaring64.Bitmap](n, nil, nil, false)
}

// Options configures an Index.
type Options struct {
	// FS is used for writing snapshots. Defaults to fs.Default.
	FS fs.FileSystem
	// Leaves caches postings. A nil cache disables caching.
	Leaves *LeafCache
	// Resource throttles checkpoint IO.
	Resource *resource.Controller
	// BucketCount sizes the delta map.
	BucketCount int
	Logger      *slog.Logger
}

type delta struct {
	added   *roaring64.Bitmap
	removed *roaring64.Bitmap
}

func (d *delta) apply(bm *roaring64.Bitmap) {
	bm.AndNot(d.removed)
	bm.Or(d.added)
}

// Index is a persistent map from unit to postings.
// It is safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	name   string
	path   string
	opts   Options
	snap   *snapshot
	delta  map[string]*delta
	lsn    uint64
	logger *slog.Logger
}

// Open loads the snapshot at path. A missing file yields an empty index.
// name distinguishes the index in the shared leaf cache.
func Open(name, path string, opts Options) (*Index, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Leaves == nil {
		opts.Leaves = NewLeafCache(0)
	}
	if opts.BucketCount <= 0 {
		opts.BucketCount = 4096
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	snap, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	ix := &Index{
		name:   name,
		path:   path,
		opts:   opts,
		snap:   snap,
		delta:  make(map[string]*delta, opts.BucketCount),
		logger: logger.With("index", name),
	}
	if snap != nil {
		ix.lsn = snap.lsn
	}
	return ix, nil
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.name }

// LSN returns the journal position covered by the loaded snapshot.
func (ix *Index) LSN() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.lsn
}

// Dirty reports whether the index holds changes not yet checkpointed.
func (ix *Index) Dirty() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.delta) > 0
}

func (ix *Index) deltaFor(unit string) *delta {
	d, ok := ix.delta[unit]
	if !ok {
		d = &delta{added: roaring64.New(), removed: roaring64.New()}
		ix.delta[unit] = d
	}
	return d
}

// Add records that the document id contains unit.
func (ix *Index) Add(unit string, id uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	d := ix.deltaFor(unit)
	d.removed.Remove(id)
	d.added.Add(id)
	ix.opts.Leaves.Remove(LeafKey{ix.name, unit})
}

// Remove records that the document id no longer contains unit.
func (ix *Index) Remove(unit string, id uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	d := ix.deltaFor(unit)
	d.added.Remove(id)
	d.removed.Add(id)
	ix.opts.Leaves.Remove(LeafKey{ix.name, unit})
}

// Update moves id from the units in remove to the units in add under one lock.
func (ix *Index) Update(id uint64, remove, add []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, unit := range remove {
		d := ix.deltaFor(unit)
		d.added.Remove(id)
		d.removed.Add(id)
		ix.opts.Leaves.Remove(LeafKey{ix.name, unit})
	}
	for _, unit := range add {
		d := ix.deltaFor(unit)
		d.removed.Remove(id)
		d.added.Add(id)
		ix.opts.Leaves.Remove(LeafKey{ix.name, unit})
	}
}

// Lookup returns the ids of the documents containing unit in ascending order.
// The returned bitmap is owned by the caller.
func (ix *Index) Lookup(unit string) (*roaring64.Bitmap, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm, err := ix.lookupLocked(unit)
	if err != nil {
		return nil, err
	}
	return bm.Clone(), nil
}

func (ix *Index) lookupLocked(unit string) (*roaring64.Bitmap, error) {
	key := LeafKey{ix.name, unit}
	if bm, ok := ix.opts.Leaves.Get(key); ok {
		return bm, nil
	}
	bm, err := ix.snap.postings(unit)
	if err != nil {
		return nil, err
	}
	if d, ok := ix.delta[unit]; ok {
		d.apply(bm)
	}
	ix.opts.Leaves.Set(key, bm)
	return bm, nil
}

// LookupUnion returns the union of the postings of units.
func (ix *Index) LookupUnion(units []string) (*roaring64.Bitmap, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := roaring64.New()
	for _, unit := range units {
		bm, err := ix.lookupLocked(unit)
		if err != nil {
			return nil, err
		}
		out.Or(bm)
	}
	return out, nil
}

// Scan calls fn for every unit with non-empty postings that starts with
// prefix, in ascending order, until fn returns false.
func (ix *Index) Scan(prefix string, fn func(unit string) bool) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.scanLocked(prefix, fn)
}

func (ix *Index) scanLocked(prefix string, fn func(unit string) bool) error {
	var pending []string
	for unit := range ix.delta {
		if strings.HasPrefix(unit, prefix) {
			pending = append(pending, unit)
		}
	}
	slices.Sort(pending)

	i, end := 0, 0
	if ix.snap != nil {
		i = ix.snap.seek(prefix)
		end = ix.snap.count
	}

	for {
		var unit string
		var fromSnap bool
		switch {
		case i < end:
			key, _, err := ix.snap.entry(i)
			if err != nil {
				return err
			}
			if !strings.HasPrefix(string(key), prefix) {
				end = i
				continue
			}
			unit, fromSnap = string(key), true
			if len(pending) > 0 && pending[0] < unit {
				unit, fromSnap = pending[0], false
			}
		case len(pending) > 0:
			unit = pending[0]
		default:
			return nil
		}

		if fromSnap {
			i++
		}
		if len(pending) > 0 && pending[0] == unit {
			pending = pending[1:]
		}

		if _, changed := ix.delta[unit]; changed {
			bm, err := ix.lookupLocked(unit)
			if err != nil {
				return err
			}
			if bm.IsEmpty() {
				continue
			}
		}
		if !fn(unit) {
			return nil
		}
	}
}

// Prefix returns up to limit units starting with prefix in ascending order.
// A limit <= 0 means no limit.
func (ix *Index) Prefix(prefix string, limit int) ([]string, error) {
	var out []string
	err := ix.Scan(prefix, func(unit string) bool {
		out = append(out, unit)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// Len returns the number of units with non-empty postings.
func (ix *Index) Len() (int, error) {
	n := 0
	err := ix.Scan("", func(string) bool {
		n++
		return true
	})
	return n, err
}

// Reset drops every unit. The snapshot file stays on disk until the next
// checkpoint replaces it.
func (ix *Index) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	err := ix.snap.close()
	ix.snap = nil
	clear(ix.delta)
	ix.purgeLeaves()
	return err
}

func (ix *Index) purgeLeaves() {
	name := ix.name
	ix.opts.Leaves.Invalidate(func(k LeafKey) bool { return k.Name == name })
}

// Checkpoint writes the merged snapshot and delta to a new snapshot covering
// lsn and loads it. On failure the previous state stays in effect.
func (ix *Index) Checkpoint(ctx context.Context, lsn uint64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	err := ix.writeLocked(ctx, lsn, func(sw *snapshotWriter) error {
		var werr error
		err := ix.scanLocked("", func(unit string) bool {
			bm, err := ix.lookupLocked(unit)
			if err == nil {
				err = sw.add(unit, bm)
			}
			werr = err
			return err == nil
		})
		if err != nil {
			return err
		}
		return werr
	})
	if err != nil {
		return err
	}
	ix.logger.Debug("checkpoint written", "lsn", lsn)
	return nil
}

// Rebuild replaces the whole index with units and writes it as a snapshot
// covering lsn.
func (ix *Index) Rebuild(ctx context.Context, lsn uint64, units map[string]*roaring64.Bitmap) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	keys := slices.Sorted(maps.Keys(units))
	err := ix.writeLocked(ctx, lsn, func(sw *snapshotWriter) error {
		for _, unit := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sw.add(unit, units[unit]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ix.logger.Debug("index rebuilt", "lsn", lsn, "units", len(keys))
	return nil
}

func (ix *Index) writeLocked(ctx context.Context, lsn uint64, fill func(*snapshotWriter) error) error {
	err := fs.WriteAtomic(ix.opts.FS, ix.path, func(w io.Writer) error {
		sw, err := newSnapshotWriter(ix.opts.Resource.LimitWriter(ctx, w), lsn)
		if err != nil {
			return err
		}
		if err := fill(sw); err != nil {
			return err
		}
		return sw.finish()
	})
	if err != nil {
		return err
	}

	snap, err := openSnapshot(ix.path)
	if err != nil {
		return err
	}
	_ = ix.snap.close()
	ix.snap = snap
	ix.lsn = lsn
	clear(ix.delta)
	ix.purgeLeaves()
	return nil
}

// Close releases the mapped snapshot. Uncheckpointed changes are lost.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	err := ix.snap.close()
	ix.snap = nil
	clear(ix.delta)
	ix.purgeLeaves()
	return err
}

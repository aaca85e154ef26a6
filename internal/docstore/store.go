package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/idb/internal/cache"
	"github.com/hupe1980/idb/internal/codec"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/resource"
)

// ErrNotFound is returned when deleting an id that is not stored.
var ErrNotFound = errors.New("docstore: record not found")

// RecordCache caches decoded snapshot records by id.
type RecordCache = cache.LRU[uint64, []byte]

// NewRecordCache creates a record cache bounded by bytes. Entries are charged
// against rc when it is non-nil.
func NewRecordCache(bytes int64, rc *resource.Controller) *RecordCache {
	return cache.NewLRU[uint64, []byte](bytes, func(b []byte) int64 { return int64(len(b)) }, rc, true)
}

// Options configures a Store.
type Options struct {
	FS          fs.FileSystem
	Compression codec.Compression
	// AlignPower aligns records to 1<<AlignPower bytes.
	AlignPower int
	// Large selects 64-bit offsets.
	Large       bool
	BucketCount int
	Records     *RecordCache
	Resource    *resource.Controller
	Logger      *slog.Logger
}

// Store maps document ids to texts. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	opts   Options
	snap   *snapshot
	delta  map[uint64][]byte
	tomb   map[uint64]struct{}
	count  uint64
	lsn    uint64
	logger *slog.Logger
}

// Open loads the snapshot at path. A missing file yields an empty store.
// An existing snapshot must match the configured compression and offset width.
func Open(path string, opts Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Records == nil {
		opts.Records = NewRecordCache(0, nil)
	}
	if opts.BucketCount <= 0 {
		opts.BucketCount = 4096
	}
	if !opts.Compression.Valid() {
		return nil, codec.ErrUnknown
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	snap, err := openSnapshot(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:   path,
		opts:   opts,
		snap:   snap,
		delta:  make(map[uint64][]byte, opts.BucketCount),
		tomb:   make(map[uint64]struct{}),
		logger: logger,
	}
	if snap != nil {
		if snap.compression != opts.Compression || snap.large != opts.Large {
			_ = snap.close()
			return nil, fmt.Errorf("%w: file has compression %s large=%t", ErrFormat, snap.compression, snap.large)
		}
		s.count = uint64(snap.count)
		s.lsn = snap.lsn
	}
	return s, nil
}

// LSN returns the journal position covered by the loaded snapshot.
func (s *Store) LSN() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lsn
}

// Len returns the number of stored documents.
func (s *Store) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dirty reports whether changes are pending a checkpoint.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.delta) > 0 || len(s.tomb) > 0
}

func (s *Store) existsLocked(id uint64) bool {
	if _, ok := s.delta[id]; ok {
		return true
	}
	if _, ok := s.tomb[id]; ok {
		return false
	}
	_, ok := s.snap.find(id)
	return ok
}

// Put stores a copy of text under id, replacing any previous text.
func (s *Store) Put(id uint64, text []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(id) {
		s.count++
	}
	buf := make([]byte, len(text))
	copy(buf, text)
	s.delta[id] = buf
	delete(s.tomb, id)
	s.opts.Records.Remove(id)
}

// Delete removes id. It returns ErrNotFound if id is not stored.
func (s *Store) Delete(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(id) {
		return ErrNotFound
	}
	s.count--
	delete(s.delta, id)
	if _, ok := s.snap.find(id); ok {
		s.tomb[id] = struct{}{}
	}
	s.opts.Records.Remove(id)
	return nil
}

// Has reports whether id is stored.
func (s *Store) Has(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(id)
}

// Get returns a copy of the text stored under id.
func (s *Store) Get(id uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok, err := s.getLocked(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return slices.Clone(text), true, nil
}

// View calls fn with the text stored under id. The slice must not be
// retained or modified.
func (s *Store) View(id uint64, fn func(text []byte)) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok, err := s.getLocked(id)
	if err != nil || !ok {
		return ok, err
	}
	fn(text)
	return true, nil
}

func (s *Store) getLocked(id uint64) ([]byte, bool, error) {
	if text, ok := s.delta[id]; ok {
		return text, true, nil
	}
	if _, ok := s.tomb[id]; ok {
		return nil, false, nil
	}
	if text, ok := s.opts.Records.Get(id); ok {
		return text, true, nil
	}
	i, ok := s.snap.find(id)
	if !ok {
		return nil, false, nil
	}
	text, err := s.decode(i)
	if err != nil {
		return nil, false, fmt.Errorf("docstore: id %d: %w", id, err)
	}
	s.opts.Records.Set(id, text)
	return text, true, nil
}

func (s *Store) decode(i int) ([]byte, error) {
	rec, err := s.snap.record(i)
	if err != nil {
		return nil, err
	}
	text, err := codec.Decode(s.opts.Compression, rec)
	if err != nil {
		return nil, err
	}
	// Raw records alias the mapping.
	return slices.Clone(text), nil
}

// IDs returns every stored id in ascending order.
func (s *Store) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, s.count)
	s.mergeLocked(func(id uint64, _ int) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Scan calls fn for every document in ascending id order until fn returns
// false. The text must not be retained.
func (s *Store) Scan(fn func(id uint64, text []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	s.mergeLocked(func(id uint64, pos int) bool {
		var text []byte
		if pos < 0 {
			text = s.delta[id]
		} else {
			text, err = s.decode(pos)
			if err != nil {
				err = fmt.Errorf("docstore: id %d: %w", id, err)
				return false
			}
		}
		return fn(id, text)
	})
	return err
}

// mergeLocked walks live ids in ascending order. pos is the snapshot table
// position, or -1 for ids held in the delta.
func (s *Store) mergeLocked(fn func(id uint64, pos int) bool) {
	pending := slices.Sorted(maps.Keys(s.delta))
	n := 0
	if s.snap != nil {
		n = s.snap.count
	}
	i := 0
	for i < n || len(pending) > 0 {
		if i < n && (len(pending) == 0 || s.snap.id(i) < pending[0]) {
			id := s.snap.id(i)
			pos := i
			i++
			if _, dead := s.tomb[id]; dead {
				continue
			}
			if !fn(id, pos) {
				return
			}
			continue
		}
		id := pending[0]
		pending = pending[1:]
		if i < n && s.snap.id(i) == id {
			i++
		}
		if !fn(id, -1) {
			return
		}
	}
}

// Reset removes every document. The snapshot file stays on disk until the
// next checkpoint replaces it.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.snap.close()
	s.snap = nil
	clear(s.delta)
	clear(s.tomb)
	s.count = 0
	s.opts.Records.Purge()
	return err
}

// Checkpoint writes a snapshot of every live document covering lsn and
// loads it. On failure the previous state stays in effect.
func (s *Store) Checkpoint(ctx context.Context, lsn uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := fs.WriteAtomic(s.opts.FS, s.path, func(w io.Writer) error {
		sw, err := newSnapshotWriter(s.opts.Resource.LimitWriter(ctx, w), lsn,
			s.opts.Compression, s.opts.AlignPower, s.opts.Large, int(s.count))
		if err != nil {
			return err
		}
		var werr error
		var buf []byte
		s.mergeLocked(func(id uint64, pos int) bool {
			if werr = ctx.Err(); werr != nil {
				return false
			}
			var rec []byte
			if pos >= 0 {
				rec, werr = s.snap.record(pos)
			} else {
				buf, werr = codec.Encode(s.opts.Compression, buf[:0], s.delta[id])
				rec = buf
			}
			if werr == nil {
				werr = sw.add(id, rec)
			}
			return werr == nil
		})
		if werr != nil {
			return werr
		}
		return sw.finish()
	})
	if err != nil {
		return err
	}

	snap, err := openSnapshot(s.path)
	if err != nil {
		return err
	}
	_ = s.snap.close()
	s.snap = snap
	s.lsn = lsn
	s.count = uint64(snap.count)
	clear(s.delta)
	clear(s.tomb)
	s.logger.Debug("document snapshot written", "lsn", lsn, "records", snap.count)
	return nil
}

// FileSize returns the size of the snapshot file.
func (s *Store) FileSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return int64(len(s.snap.data))
}

// Close releases the snapshot. Uncheckpointed changes are lost.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.snap.close()
	s.snap = nil
	clear(s.delta)
	clear(s.tomb)
	s.opts.Records.Purge()
	return err
}

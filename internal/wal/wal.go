package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/idb/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache until Sync is called.
	DurabilityAsync Durability = iota
	// DurabilitySync makes Append wait for fsync. Concurrent appenders share
	// one fsync (group commit).
	DurabilitySync
)

const (
	walMagic      = "IDBWALOG" // 8 bytes
	walVersion    = 1          // 4 bytes
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

type Options struct {
	Durability Durability
}

func DefaultOptions() Options {
	return Options{Durability: DurabilityAsync}
}

// WAL manages the journal file.
type WAL struct {
	mu   sync.Mutex
	fs   fs.FileSystem
	file fs.File
	cw   *countingWriter
	path string
	opts Options

	// Group commit state
	syncedOffset int64
	syncCond     *sync.Cond // signals the syncer that there is data to sync
	doneCond     *sync.Cond // signals waiters that a sync completed
	closed       bool
	lastErr      error // terminal error of the background syncer
	wg           sync.WaitGroup
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// Open opens or creates a WAL at the given path.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	offset := stat.Size()

	if offset == 0 {
		header := make([]byte, walHeaderSize)
		copy(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
		if _, err := f.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		offset = walHeaderSize
	} else {
		if err := checkHeader(f, offset); err != nil {
			f.Close()
			return nil, err
		}
	}

	w := &WAL{
		fs:           fsys,
		file:         f,
		cw:           &countingWriter{w: bufio.NewWriter(f), n: offset},
		path:         path,
		opts:         opts,
		syncedOffset: offset,
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if opts.Durability == DurabilitySync {
		w.wg.Add(1)
		go w.runSyncer()
	}
	return w, nil
}

func checkHeader(f fs.File, size int64) error {
	if size < walHeaderSize {
		return fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, walHeaderSize)
	}
	header := make([]byte, walHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[0:8]) != walMagic {
		return fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
		return fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
	}
	return nil
}

// Path returns the file path of the WAL.
func (w *WAL) Path() string {
	return w.path
}

// Size returns the current size of the WAL in bytes, header included.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cw.n
}

// Empty reports whether the WAL holds no records.
func (w *WAL) Empty() bool {
	return w.Size() <= walHeaderSize
}

func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.cw.n <= w.syncedOffset && !w.closed {
			w.syncCond.Wait()
		}
		if w.closed && w.cw.n <= w.syncedOffset {
			return
		}

		target := w.cw.n

		w.mu.Unlock()
		err := w.file.Sync()
		w.mu.Lock()

		if err != nil {
			w.lastErr = fmt.Errorf("wal sync failed: %w", err)
			w.doneCond.Broadcast()
			return
		}
		if target > w.syncedOffset {
			w.syncedOffset = target
		}
		w.doneCond.Broadcast()
	}
}

// Append writes a record to the WAL.
// It respects the configured durability mode.
func (w *WAL) Append(rec *Record) error {
	offset, err := w.AppendAsync(rec)
	if err != nil {
		return err
	}
	if w.opts.Durability == DurabilitySync {
		return w.WaitFor(offset)
	}
	return nil
}

// AppendAsync writes a record to the file but does not wait for fsync.
// It returns the file offset of the end of the record.
func (w *WAL) AppendAsync(rec *Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}

	start := w.cw.n
	if err := rec.Encode(w.cw); err != nil {
		w.rollback(start)
		return 0, err
	}
	if err := w.cw.Flush(); err != nil {
		w.rollback(start)
		return 0, err
	}

	end := w.cw.n
	if w.opts.Durability == DurabilitySync {
		w.syncCond.Signal()
	}
	return end, nil
}

// rollback drops a partially written record so the journal ends on a record
// boundary again.
func (w *WAL) rollback(offset int64) {
	w.cw.w.Reset(w.file)
	if err := w.fs.Truncate(w.path, offset); err == nil {
		w.cw.n = offset
	} else {
		w.lastErr = fmt.Errorf("wal rollback failed: %w", err)
	}
}

// WaitFor waits until the WAL is synced up to the given offset.
func (w *WAL) WaitFor(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.syncedOffset < offset && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.closed && w.syncedOffset < offset {
		return os.ErrClosed
	}
	return nil
}

// Sync commits all written records to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if err := w.cw.Flush(); err != nil {
		return err
	}

	if w.opts.Durability == DurabilityAsync {
		if err := w.file.Sync(); err != nil {
			return err
		}
		w.syncedOffset = w.cw.n
		return nil
	}

	target := w.cw.n
	w.syncCond.Signal()
	for w.syncedOffset < target && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	return w.lastErr
}

// Reset discards every record, keeping the header. It is called once the
// records are covered by a checkpoint.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if err := w.cw.Flush(); err != nil {
		return err
	}
	if err := w.fs.Truncate(w.path, walHeaderSize); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.cw.n = walHeaderSize
	w.syncedOffset = walHeaderSize
	return nil
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records        int
	MaxLSN         uint64
	TruncatedBytes int64
}

// Replay feeds every valid record to fn in log order. A torn or corrupt tail
// ends the replay and is cut off so new records follow the last good one.
// An error returned by fn aborts the replay.
func (w *WAL) Replay(fn func(*Record) error) (ReplayStats, error) {
	var stats ReplayStats

	r, err := w.Reader()
	if err != nil {
		return stats, err
	}
	defer r.Close()

	var tailErr error
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			tailErr = err
			break
		}
		if err := fn(rec); err != nil {
			return stats, err
		}
		stats.Records++
		if rec.LSN > stats.MaxLSN {
			stats.MaxLSN = rec.LSN
		}
	}

	if tailErr == nil {
		return stats, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.cw.Flush(); err != nil {
		return stats, err
	}
	valid := r.Offset()
	stats.TruncatedBytes = w.cw.n - valid
	if err := w.fs.Truncate(w.path, valid); err != nil {
		return stats, fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	w.cw.n = valid
	if w.syncedOffset > valid {
		w.syncedOffset = valid
	}
	return stats, nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}

	if err := w.cw.Flush(); err != nil {
		w.closed = true
		w.syncCond.Signal()
		w.mu.Unlock()
		w.wg.Wait()
		w.file.Close()
		return err
	}

	w.closed = true
	w.syncCond.Signal()
	w.mu.Unlock()

	w.wg.Wait()
	return w.file.Close()
}

// Reader returns a reader for replaying the WAL.
// The caller is responsible for closing it.
func (w *WAL) Reader() (*Reader, error) {
	w.mu.Lock()
	flushErr := w.cw.Flush()
	w.mu.Unlock()
	if flushErr != nil {
		return nil, flushErr
	}

	f, err := w.fs.OpenFile(w.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReader(f), offset: walHeaderSize}, nil
}

// Reader iterates over WAL records.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// Next reads the next record. Returns io.EOF when done.
func (r *Reader) Next() (*Record, error) {
	rec, n, err := Decode(r.r)
	if err == nil {
		r.offset += n
	}
	return rec, err
}

// Offset returns the end offset of the last valid record.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadFile replays the journal at path without opening it for writing.
// A torn tail ends the replay and is reported in TruncatedBytes but left on
// disk. A missing file replays nothing.
func ReadFile(fsys fs.FileSystem, path string, fn func(*Record) error) (ReplayStats, error) {
	var stats ReplayStats
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return stats, err
	}
	if st.Size() == 0 {
		return stats, nil
	}
	if err := checkHeader(f, st.Size()); err != nil {
		return stats, err
	}
	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		return stats, err
	}

	r := &Reader{f: f, r: bufio.NewReader(f), offset: walHeaderSize}
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			stats.TruncatedBytes = st.Size() - r.Offset()
			return stats, nil
		}
		if err := fn(rec); err != nil {
			return stats, err
		}
		stats.Records++
		stats.MaxLSN = max(stats.MaxLSN, rec.LSN)
	}
}

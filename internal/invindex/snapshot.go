package invindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/idb/internal/mmap"
)

const (
	snapshotMagic   = "IDBINDEX"
	footerMagic     = uint32(0x49445846) // "IDXF"
	snapshotVersion = 1

	headerSize = 8 + 4 + 4 + 8
	footerSize = 8 + 8 + 4 + 4
)

var (
	// ErrCorrupt is returned when a snapshot file fails validation.
	ErrCorrupt = errors.New("invindex: corrupt snapshot")
	// ErrUnsorted is returned when units are written out of order.
	ErrUnsorted = errors.New("invindex: units not in ascending order")
)

// snapshot is a read-only view of a mapped index file.
type snapshot struct {
	m     *mmap.Mapping
	data  []byte
	lsn   uint64
	table []byte
	count int
}

// openSnapshot maps the file at path. A missing file yields (nil, nil).
func openSnapshot(path string) (*snapshot, error) {
	m, err := mmap.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	s, err := parseSnapshot(m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.m = m
	_ = m.Advise(mmap.AccessRandom)
	return s, nil
}

func parseSnapshot(data []byte) (*snapshot, error) {
	if len(data) < headerSize+footerSize {
		return nil, ErrCorrupt
	}
	if string(data[:8]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	footer := data[len(data)-footerSize:]
	if binary.LittleEndian.Uint32(footer[20:24]) != footerMagic {
		return nil, fmt.Errorf("%w: bad footer", ErrCorrupt)
	}
	tableOff := binary.LittleEndian.Uint64(footer[0:8])
	count := binary.LittleEndian.Uint64(footer[8:16])
	sum := binary.LittleEndian.Uint32(footer[16:20])

	body := data[:len(data)-footerSize]
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if tableOff < headerSize || tableOff > uint64(len(body)) || (uint64(len(body))-tableOff) != count*8 {
		return nil, fmt.Errorf("%w: bad offset table", ErrCorrupt)
	}

	return &snapshot{
		data:  data,
		lsn:   binary.LittleEndian.Uint64(data[16:24]),
		table: body[tableOff:],
		count: int(count),
	}, nil
}

func (s *snapshot) close() error {
	if s == nil {
		return nil
	}
	return s.m.Close()
}

// entry returns the key and serialized postings of the i-th unit.
func (s *snapshot) entry(i int) ([]byte, []byte, error) {
	off := binary.LittleEndian.Uint64(s.table[i*8:])
	if off >= uint64(len(s.data)) {
		return nil, nil, ErrCorrupt
	}
	p := s.data[off:]
	klen, n := binary.Uvarint(p)
	if n <= 0 || uint64(len(p)-n) < klen {
		return nil, nil, ErrCorrupt
	}
	key := p[n : n+int(klen)]
	p = p[n+int(klen):]
	plen, n := binary.Uvarint(p)
	if n <= 0 || uint64(len(p)-n) < plen {
		return nil, nil, ErrCorrupt
	}
	return key, p[n : n+int(plen)], nil
}

func (s *snapshot) key(i int) []byte {
	k, _, err := s.entry(i)
	if err != nil {
		return nil
	}
	return k
}

// seek returns the index of the first unit >= key.
func (s *snapshot) seek(key string) int {
	return sort.Search(s.count, func(i int) bool {
		return bytes.Compare(s.key(i), []byte(key)) >= 0
	})
}

// postings decodes the postings of unit into a new bitmap.
// Units missing from the snapshot yield an empty bitmap.
func (s *snapshot) postings(unit string) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	if s == nil {
		return bm, nil
	}
	i := s.seek(unit)
	if i >= s.count {
		return bm, nil
	}
	key, post, err := s.entry(i)
	if err != nil {
		return nil, err
	}
	if string(key) != unit {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(post); err != nil {
		return nil, fmt.Errorf("%w: unit %q: %w", ErrCorrupt, unit, err)
	}
	return bm, nil
}

// snapshotWriter streams sorted units into the snapshot format.
type snapshotWriter struct {
	w       io.Writer
	crc     uint32
	off     uint64
	offsets []uint64
	last    string
	scratch bytes.Buffer
}

func newSnapshotWriter(w io.Writer, lsn uint64) (*snapshotWriter, error) {
	sw := &snapshotWriter{w: w}
	var hdr [headerSize]byte
	copy(hdr[:8], snapshotMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], snapshotVersion)
	binary.LittleEndian.PutUint64(hdr[16:24], lsn)
	if err := sw.write(hdr[:]); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *snapshotWriter) write(p []byte) error {
	n, err := sw.w.Write(p)
	sw.crc = crc32.Update(sw.crc, crc32.IEEETable, p[:n])
	sw.off += uint64(n)
	return err
}

// add appends a unit. Units must arrive in strictly ascending order and
// empty postings are skipped.
func (sw *snapshotWriter) add(unit string, bm *roaring64.Bitmap) error {
	if bm == nil || bm.IsEmpty() {
		return nil
	}
	if len(sw.offsets) > 0 && unit <= sw.last {
		return fmt.Errorf("%w: %q after %q", ErrUnsorted, unit, sw.last)
	}
	sw.scratch.Reset()
	bm.RunOptimize()
	if _, err := bm.WriteTo(&sw.scratch); err != nil {
		return err
	}

	sw.offsets = append(sw.offsets, sw.off)
	sw.last = unit

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(unit)))
	if err := sw.write(lenBuf[:n]); err != nil {
		return err
	}
	if err := sw.write([]byte(unit)); err != nil {
		return err
	}
	n = binary.PutUvarint(lenBuf[:], uint64(sw.scratch.Len()))
	if err := sw.write(lenBuf[:n]); err != nil {
		return err
	}
	return sw.write(sw.scratch.Bytes())
}

func (sw *snapshotWriter) finish() error {
	tableOff := sw.off
	var b [8]byte
	for _, off := range sw.offsets {
		binary.LittleEndian.PutUint64(b[:], off)
		if err := sw.write(b[:]); err != nil {
			return err
		}
	}
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], tableOff)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(sw.offsets)))
	binary.LittleEndian.PutUint32(footer[16:20], sw.crc)
	binary.LittleEndian.PutUint32(footer[20:24], footerMagic)
	_, err := sw.w.Write(footer[:])
	return err
}

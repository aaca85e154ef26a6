package docstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"

	"github.com/hupe1980/idb/internal/codec"
	"github.com/hupe1980/idb/internal/mmap"
)

const (
	snapshotMagic   = "IDBDOCS1"
	footerMagic     = uint32(0x44435346) // "DCSF"
	snapshotVersion = 1

	headerSize = 32
	footerSize = 24

	flagLarge = 1 << 0

	// maxSmallSize bounds a snapshot written without 64-bit offsets.
	maxSmallSize = math.MaxInt32
)

var (
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("docstore: corrupt snapshot")
	// ErrTooLarge is returned when a snapshot without 64-bit offsets would
	// exceed 2 GiB.
	ErrTooLarge = errors.New("docstore: snapshot exceeds 2 GiB without large offsets")
	// ErrFormat is returned when a snapshot was written with other settings.
	ErrFormat = errors.New("docstore: snapshot format mismatch")
)

type snapshot struct {
	m           *mmap.Mapping
	data        []byte
	lsn         uint64
	large       bool
	compression codec.Compression
	table       []byte
	entrySize   int
	count       int
}

func entrySize(large bool) int {
	if large {
		return 8 + 8 + 4
	}
	return 8 + 4 + 4
}

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
	if len(data) < headerSize+footerSize || string(data[:8]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	flags := binary.LittleEndian.Uint32(data[12:16])

	footer := data[len(data)-footerSize:]
	if binary.LittleEndian.Uint32(footer[20:24]) != footerMagic {
		return nil, fmt.Errorf("%w: bad footer", ErrCorrupt)
	}
	body := data[:len(data)-footerSize]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(footer[16:20]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	s := &snapshot{
		data:        data,
		lsn:         binary.LittleEndian.Uint64(data[16:24]),
		large:       flags&flagLarge != 0,
		compression: codec.Compression(flags >> 8 & 0xFF),
	}
	if !s.compression.Valid() {
		return nil, fmt.Errorf("%w: compression %d", ErrCorrupt, s.compression)
	}
	s.entrySize = entrySize(s.large)

	tableOff := binary.LittleEndian.Uint64(footer[0:8])
	count := binary.LittleEndian.Uint64(footer[8:16])
	if tableOff < headerSize || tableOff > uint64(len(body)) || uint64(len(body))-tableOff != count*uint64(s.entrySize) {
		return nil, fmt.Errorf("%w: bad id table", ErrCorrupt)
	}
	s.table = body[tableOff:]
	s.count = int(count)
	return s, nil
}

func (s *snapshot) close() error {
	if s == nil {
		return nil
	}
	return s.m.Close()
}

func (s *snapshot) id(i int) uint64 {
	return binary.LittleEndian.Uint64(s.table[i*s.entrySize:])
}

// find returns the table position of id.
func (s *snapshot) find(id uint64) (int, bool) {
	if s == nil {
		return 0, false
	}
	i := sort.Search(s.count, func(i int) bool { return s.id(i) >= id })
	return i, i < s.count && s.id(i) == id
}

// record returns the encoded record at table position i without copying.
func (s *snapshot) record(i int) ([]byte, error) {
	e := s.table[i*s.entrySize:]
	var off uint64
	var n uint32
	if s.large {
		off = binary.LittleEndian.Uint64(e[8:16])
		n = binary.LittleEndian.Uint32(e[16:20])
	} else {
		off = uint64(binary.LittleEndian.Uint32(e[8:12]))
		n = binary.LittleEndian.Uint32(e[12:16])
	}
	if off+uint64(n) > uint64(len(s.data)) {
		return nil, ErrCorrupt
	}
	return s.data[off : off+uint64(n)], nil
}

type tableEntry struct {
	id     uint64
	offset uint64
	length uint32
}

// snapshotWriter streams records in ascending id order.
type snapshotWriter struct {
	w       io.Writer
	crc     uint32
	off     uint64
	align   uint64
	large   bool
	entries []tableEntry
	zeros   []byte
}

func newSnapshotWriter(w io.Writer, lsn uint64, c codec.Compression, alignPower int, large bool, capHint int) (*snapshotWriter, error) {
	sw := &snapshotWriter{
		w:       w,
		align:   1 << alignPower,
		large:   large,
		entries: make([]tableEntry, 0, capHint),
		zeros:   make([]byte, 1<<alignPower),
	}
	var hdr [headerSize]byte
	copy(hdr[:8], snapshotMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], snapshotVersion)
	flags := uint32(c) << 8
	if large {
		flags |= flagLarge
	}
	binary.LittleEndian.PutUint32(hdr[12:16], flags)
	binary.LittleEndian.PutUint64(hdr[16:24], lsn)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(alignPower))
	if err := sw.write(hdr[:]); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *snapshotWriter) write(p []byte) error {
	n, err := sw.w.Write(p)
	sw.crc = crc32.Update(sw.crc, crc32.IEEETable, p[:n])
	sw.off += uint64(n)
	if err == nil && !sw.large && sw.off > maxSmallSize {
		return ErrTooLarge
	}
	return err
}

func (sw *snapshotWriter) pad() error {
	if rem := sw.off % sw.align; rem != 0 {
		return sw.write(sw.zeros[:sw.align-rem])
	}
	return nil
}

// add appends an encoded record.
func (sw *snapshotWriter) add(id uint64, rec []byte) error {
	if n := len(sw.entries); n > 0 && id <= sw.entries[n-1].id {
		return fmt.Errorf("docstore: id %d written out of order", id)
	}
	if uint64(len(rec)) > math.MaxUint32 {
		return ErrTooLarge
	}
	if err := sw.pad(); err != nil {
		return err
	}
	sw.entries = append(sw.entries, tableEntry{id: id, offset: sw.off, length: uint32(len(rec))})
	return sw.write(rec)
}

func (sw *snapshotWriter) finish() error {
	if err := sw.pad(); err != nil {
		return err
	}
	tableOff := sw.off
	buf := make([]byte, entrySize(sw.large))
	for _, e := range sw.entries {
		binary.LittleEndian.PutUint64(buf[0:8], e.id)
		if sw.large {
			binary.LittleEndian.PutUint64(buf[8:16], e.offset)
			binary.LittleEndian.PutUint32(buf[16:20], e.length)
		} else {
			binary.LittleEndian.PutUint32(buf[8:12], uint32(e.offset))
			binary.LittleEndian.PutUint32(buf[12:16], e.length)
		}
		if err := sw.write(buf); err != nil {
			return err
		}
	}
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], tableOff)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(sw.entries)))
	binary.LittleEndian.PutUint32(footer[16:20], sw.crc)
	binary.LittleEndian.PutUint32(footer[20:24], footerMagic)
	return sw.write(footer[:])
}

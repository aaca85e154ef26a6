package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// RecordType identifies the type of journal record.
type RecordType uint8

const (
	// RecordTypePut stores or overwrites a document.
	RecordTypePut RecordType = 1
	// RecordTypeOut removes a document.
	RecordTypeOut RecordType = 2
	// RecordTypeVanish removes every document.
	RecordTypeVanish RecordType = 3
)

func (t RecordType) valid() bool {
	return t >= RecordTypePut && t <= RecordTypeVanish
}

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidType    = errors.New("invalid WAL record type")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// MaxRecordSize bounds a single encoded payload.
const MaxRecordSize = 256 << 20

const recordHeaderSize = 4 + 1 + 8 + 4

// Record is a single mutation in the journal.
type Record struct {
	LSN  uint64
	Type RecordType
	ID   uint64
	Text []byte
}

func (r *Record) payloadLen() int {
	switch r.Type {
	case RecordTypePut:
		return 8 + len(r.Text)
	case RecordTypeOut:
		return 8
	default:
		return 0
	}
}

// Size returns the encoded size of the record.
func (r *Record) Size() int {
	return recordHeaderSize + r.payloadLen()
}

// Encode writes the record to w.
//
// Format:
// [CRC32: 4] [Type: 1] [LSN: 8] [Length: 4] [Payload: Length]
// Payload for Put: [ID: 8] [Text]
// Payload for Out: [ID: 8]
// Vanish carries no payload. The checksum covers type, LSN, length and payload.
func (r *Record) Encode(w io.Writer) error {
	if !r.Type.valid() {
		return ErrInvalidType
	}
	n := r.payloadLen()
	if n > MaxRecordSize {
		return ErrRecordTooLarge
	}

	buf := make([]byte, recordHeaderSize+n)
	buf[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[5:], r.LSN)
	binary.LittleEndian.PutUint32(buf[13:], uint32(n))
	if r.Type == RecordTypePut || r.Type == RecordTypeOut {
		binary.LittleEndian.PutUint64(buf[recordHeaderSize:], r.ID)
	}
	if r.Type == RecordTypePut {
		copy(buf[recordHeaderSize+8:], r.Text)
	}
	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))

	_, err := w.Write(buf)
	return err
}

// Decode reads a record from r. It returns the number of bytes consumed.
// A clean end of input yields io.EOF; a record cut short yields
// io.ErrUnexpectedEOF.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, recordHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		return nil, int64(n), err
	}

	checksum := binary.LittleEndian.Uint32(header[0:4])
	recType := RecordType(header[4])
	lsn := binary.LittleEndian.Uint64(header[5:])
	length := binary.LittleEndian.Uint32(header[13:])

	if length > MaxRecordSize {
		return nil, recordHeaderSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, recordHeaderSize + int64(n), err
	}
	consumed := recordHeaderSize + int64(length)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(payload)
	if crc.Sum32() != checksum {
		return nil, consumed, ErrInvalidCRC
	}

	rec := &Record{Type: recType, LSN: lsn}
	switch recType {
	case RecordTypePut:
		if len(payload) < 8 {
			return nil, consumed, ErrShortRead
		}
		rec.ID = binary.LittleEndian.Uint64(payload)
		rec.Text = payload[8:]
	case RecordTypeOut:
		if len(payload) != 8 {
			return nil, consumed, ErrShortRead
		}
		rec.ID = binary.LittleEndian.Uint64(payload)
	case RecordTypeVanish:
		if len(payload) != 0 {
			return nil, consumed, ErrShortRead
		}
	default:
		return nil, consumed, ErrInvalidType
	}
	return rec, consumed, nil
}

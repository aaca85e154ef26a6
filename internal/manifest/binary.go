package manifest

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	binaryMagic = 0x49444231 // "IDB1"
)

// WriteBinary writes the manifest in binary format. See the package
// documentation for the layout.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 128))

	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(uint64(m.UpdatedAt.UnixNano()))
	pb.writeUint64(uint64(m.Tuning.BucketCount))
	pb.writeUint32(uint32(m.Tuning.AlignPower))
	pb.writeUint32(uint32(m.Tuning.FreePower))
	pb.writeUint32(m.Tuning.Options)
	pb.writeUint32(uint32(m.QGramSize))
	pb.writeUint64(m.DocsLSN)
	pb.writeUint64(m.QGramLSN)
	pb.writeUint64(m.TokenLSN)
	pb.writeUint64(m.Records)
	pb.writeString(m.Label)

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], CurrentVersion)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])
	if length > 1<<20 {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupt, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrCorrupt, err)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.UpdatedAt = time.Unix(0, int64(pb.readUint64()))
	m.Tuning.BucketCount = int64(pb.readUint64())
	m.Tuning.AlignPower = int32(pb.readUint32())
	m.Tuning.FreePower = int32(pb.readUint32())
	m.Tuning.Options = pb.readUint32()
	m.QGramSize = int(pb.readUint32())
	m.DocsLSN = pb.readUint64()
	m.QGramLSN = pb.readUint64()
	m.TokenLSN = pb.readUint64()
	m.Records = pb.readUint64()
	m.Label = pb.readString()

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	if p.pos+l > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}

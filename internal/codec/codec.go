// Package codec compresses stored records.
//
// Every encoded record starts with a one byte flag and the uvarint length of
// the raw data. Records that do not shrink are stored raw, so decoding never
// depends on whether compression paid off.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the record compression algorithm.
type Compression uint8

const (
	// None stores records uncompressed.
	None Compression = iota
	// Deflate uses DEFLATE.
	Deflate
	// Zstd uses Zstandard. It serves the block compression slot.
	Zstd
	// LZ4 uses LZ4 block compression.
	LZ4
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Deflate:
		return "deflate"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const (
	flagRaw        = 0
	flagCompressed = 1

	// minCompressSize skips compression for tiny records.
	minCompressSize = 64
)

var (
	// ErrCorrupt is returned when an encoded record cannot be decoded.
	ErrCorrupt = errors.New("codec: corrupt record")
	// ErrUnknown is returned for an unknown compression id.
	ErrUnknown = errors.New("codec: unknown compression")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
	flateWriterPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func getFlateWriter(w io.Writer) *flate.Writer {
	if v := flateWriterPool.Get(); v != nil {
		fw := v.(*flate.Writer)
		fw.Reset(w)
		return fw
	}
	fw, _ := flate.NewWriter(w, flate.DefaultCompression)
	return fw
}

// Valid reports whether c is a known compression.
func (c Compression) Valid() bool {
	return c <= LZ4
}

// Encode appends the encoded form of src to dst.
func Encode(c Compression, dst, src []byte) ([]byte, error) {
	if !c.Valid() {
		return nil, ErrUnknown
	}

	var compressed []byte
	if c != None && len(src) >= minCompressSize {
		var err error
		compressed, err = compress(c, src)
		if err != nil {
			return nil, err
		}
	}

	if compressed == nil || len(compressed) >= len(src) {
		dst = append(dst, flagRaw)
		dst = binary.AppendUvarint(dst, uint64(len(src)))
		return append(dst, src...), nil
	}
	dst = append(dst, flagCompressed)
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	return append(dst, compressed...), nil
}

// Decode returns the raw form of an encoded record.
// Raw records are returned as a sub-slice of src without copying.
func Decode(c Compression, src []byte) ([]byte, error) {
	if len(src) < 2 {
		return nil, ErrCorrupt
	}
	flag := src[0]
	rawLen, n := binary.Uvarint(src[1:])
	if n <= 0 {
		return nil, ErrCorrupt
	}
	body := src[1+n:]

	switch flag {
	case flagRaw:
		if uint64(len(body)) != rawLen {
			return nil, ErrCorrupt
		}
		return body, nil
	case flagCompressed:
		out, err := decompress(c, body, int(rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint64(len(out)) != rawLen {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, ErrCorrupt
	}
}

func compress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case Deflate:
		var buf bytes.Buffer
		fw := getFlateWriter(&buf)
		defer flateWriterPool.Put(fw)
		if _, err := fw.Write(src); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(src, nil), nil
	case LZ4:
		out := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, out, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // incompressible
		}
		return out[:n], nil
	default:
		return nil, ErrUnknown
	}
}

func decompress(c Compression, src []byte, rawLen int) ([]byte, error) {
	switch c {
	case Deflate:
		fr := flate.NewReader(bytes.NewReader(src))
		defer fr.Close()
		out := make([]byte, 0, rawLen)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, fr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(src, make([]byte, 0, rawLen))
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	default:
		return nil, ErrUnknown
	}
}

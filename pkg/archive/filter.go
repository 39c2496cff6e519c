// Package archive implements the pax-container package archive of spec
// §4.2: a tar (PAX format) stream, optionally wrapped in one compression
// filter, with a fixed leading member order and SOURCE_DATE_EPOCH-aware
// timestamp handling.
//
// The in-memory, io.Reader/io.Writer-based construction style (no
// temp-file staging, no external process) follows deb.Package.WriteTo and
// the countingWriter helper in deb/util.go; this package generalizes the
// teacher's single always-gzip pipeline to the four filters spec §4.2
// requires, auto-detected on read from magic bytes exactly as
// deb.NewPackage auto-detects its own container on read.
package archive

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Filter is a compression filter wrapping the raw tar stream.
type Filter string

const (
	None  Filter = "none"
	Gzip  Filter = "gzip"
	Bzip2 Filter = "bzip2"
	XZ    Filter = "xz"
	Zstd  Filter = "zstd"
)

// Level sentinels, spec §4.2: "min"/"max" map to per-format best-known-good
// defaults; numeric levels are otherwise passed through as given.
const (
	LevelMin = -1
	LevelMax = -2
)

// ParseLevel turns the caller-supplied level token ("min", "max", or a
// decimal number) into a concrete level for filter, validating it against
// that format's accepted range (zstd 1..19; gzip/bzip2/xz 1..9).
func ParseLevel(filter Filter, token string) (int, error) {
	var lo, hi, def int
	switch filter {
	case Zstd:
		lo, hi, def = 1, 19, 3
	case Gzip, Bzip2, XZ:
		lo, hi, def = 1, 9, 6
	case None:
		return 0, fmt.Errorf("archive: requesting a compression level on filter %q is an error", None)
	default:
		return 0, fmt.Errorf("archive: unknown filter %q", filter)
	}
	switch token {
	case "", "default":
		return def, nil
	case "min":
		return lo, nil
	case "max":
		return hi, nil
	}
	var n int
	if _, err := fmt.Sscanf(token, "%d", &n); err != nil {
		return 0, fmt.Errorf("archive: invalid level %q for filter %s: %w", token, filter, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("archive: level %d out of range [%d,%d] for filter %s", n, lo, hi, filter)
	}
	return n, nil
}

var magic = []struct {
	filter Filter
	bytes  []byte
}{
	{Gzip, []byte{0x1f, 0x8b}},
	{Bzip2, []byte("BZh")},
	{XZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{Zstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
}

// Sniff peeks at the head of r and returns the detected Filter plus a
// reader that still produces the full stream (including the peeked
// bytes). If no known magic matches, it returns None: the stream is
// assumed to be a raw tar.
func Sniff(r io.Reader) (Filter, io.Reader, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return None, nil, fmt.Errorf("archive: sniffing filter: %w", err)
	}
	for _, m := range magic {
		if len(head) >= len(m.bytes) && string(head[:len(m.bytes)]) == string(m.bytes) {
			return m.filter, br, nil
		}
	}
	return None, br, nil
}

// newDecompressor wraps r with the decoder for filter. bzip2 is
// decode-only (the standard library has no bzip2 writer — see
// newCompressor and DESIGN.md).
func newDecompressor(filter Filter, r io.Reader) (io.Reader, error) {
	switch filter {
	case None:
		return r, nil
	case Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r), nil
	case XZ:
		return xz.NewReader(r)
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("archive: unknown filter %q", filter)
	}
}

// compressCloser is the common surface of every filter's write side: it
// must be Closed to flush trailers (checksums, end-of-stream markers).
type compressCloser interface {
	io.WriteCloser
}

// newCompressor wraps w with the encoder for filter at level. zstd maps
// level onto the encoder's four speed presets; xz ignores level and uses
// the encoder's default settings.
//
// bzip2 has no compressing implementation anywhere in the retrieval pack
// (the standard library's compress/bzip2 is decode-only); requesting it
// for write returns an error rather than silently downgrading to another
// filter. See DESIGN.md.
func newCompressor(filter Filter, level int, w io.Writer) (compressCloser, error) {
	switch filter {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, level)
	case Bzip2:
		return nil, fmt.Errorf("archive: bzip2 write is not supported (decode-only)")
	case XZ:
		cfg := xz.WriterConfig{}
		zw, err := cfg.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("archive: unknown filter %q", filter)
	}
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

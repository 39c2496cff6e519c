package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Leading member names, in the fixed order spec §4.2 mandates. Scripts and
// payload files follow these, in caller-supplied order.
const (
	MemberCompactManifest = "+COMPACT_MANIFEST"
	MemberManifest        = "+MANIFEST"
	MemberDesc            = "+DESC"
	MemberDisplay         = "+DISPLAY"
	MemberMtreeDirs       = "+MTREE_DIRS"
)

// leadingOrder is the fixed prefix every package archive emits, before
// scripts and payload. Readers interested only in metadata stop at the
// first member not in this set (or not starting with "+").
var leadingOrder = []string{
	MemberCompactManifest, MemberManifest, MemberDesc, MemberDisplay, MemberMtreeDirs,
}

// Entry is one archive member about to be written, or just read.
type Entry struct {
	Name       string
	Mode       int64
	Size       int64
	ModTime    time.Time
	Uname      string
	Gname      string
	Typeflag   byte // tar.TypeReg, tar.TypeSymlink, tar.TypeDir
	Linkname   string
	Body       []byte // nil for directories/symlinks
}

// Writer assembles a package archive: a PAX tar stream wrapped in an
// optional compression Filter. Members are written in call order: the
// caller calls WriteManifests first, then WriteScript/WritePayload.
// WriteScript is refused once payload writing has begun; no other order
// is checked.
type Writer struct {
	tw        *tar.Writer
	comp      compressCloser
	timestamp time.Time
	wroteLead map[string]bool
	sawPayload bool
}

// NewWriter returns a Writer that compresses with filter at level and
// stamps every entry with timestamp. If timestamp is zero, SOURCE_DATE_EPOCH
// is consulted (spec §4.2); if that is unset too, each entry keeps its own
// ModTime.
func NewWriter(w io.Writer, filter Filter, level int, timestamp time.Time) (*Writer, error) {
	if timestamp.IsZero() {
		if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				timestamp = time.Unix(secs, 0).UTC()
			}
		}
	}
	comp, err := newCompressor(filter, level, w)
	if err != nil {
		return nil, err
	}
	return &Writer{
		tw:        tar.NewWriter(comp),
		comp:      comp,
		timestamp: timestamp,
		wroteLead: make(map[string]bool),
	}, nil
}

// WriteManifests writes the leading "+..." members in the fixed order,
// skipping any with nil Body except the two mandatory ones (compact,
// pretty manifest).
func (w *Writer) WriteManifests(compact, pretty, desc, display, mtreeDirs []byte) error {
	if compact == nil || pretty == nil {
		return fmt.Errorf("archive: COMPACT_MANIFEST and MANIFEST are both mandatory")
	}
	members := []struct {
		name string
		body []byte
	}{
		{MemberCompactManifest, compact},
		{MemberManifest, pretty},
		{MemberDesc, desc},
		{MemberDisplay, display},
		{MemberMtreeDirs, mtreeDirs},
	}
	for _, m := range members {
		if m.body == nil {
			continue
		}
		if err := w.writeRaw(m.name, 0644, m.body); err != nil {
			return err
		}
		w.wroteLead[m.name] = true
	}
	return nil
}

// WriteScript writes a maintainer script member. Must be called after
// WriteManifests and before any WritePayload call.
func (w *Writer) WriteScript(name string, mode int64, body []byte) error {
	if w.sawPayload {
		return fmt.Errorf("archive: script %q written after payload began", name)
	}
	return w.writeRaw(name, mode, body)
}

// WritePayload writes one payload file or directory entry.
func (w *Writer) WritePayload(e Entry) error {
	w.sawPayload = true
	hdr := &tar.Header{
		Name:     e.Name,
		Mode:     e.Mode,
		Size:     int64(len(e.Body)),
		ModTime:  w.entryTime(e.ModTime),
		Typeflag: e.Typeflag,
		Uname:    e.Uname,
		Gname:    e.Gname,
		Linkname: e.Linkname,
		Format:   tar.FormatPAX,
	}
	if e.Typeflag == tar.TypeDir || e.Typeflag == tar.TypeSymlink {
		hdr.Size = 0
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: writing header for %s: %w", e.Name, err)
	}
	if hdr.Size > 0 {
		if _, err := w.tw.Write(e.Body); err != nil {
			return fmt.Errorf("archive: writing body for %s: %w", e.Name, err)
		}
	}
	return nil
}

func (w *Writer) writeRaw(name string, mode int64, body []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(body)),
		ModTime: w.entryTime(time.Time{}),
		Format:  tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: writing header for %s: %w", name, err)
	}
	if _, err := w.tw.Write(body); err != nil {
		return fmt.Errorf("archive: writing body for %s: %w", name, err)
	}
	return nil
}

func (w *Writer) entryTime(given time.Time) time.Time {
	if !w.timestamp.IsZero() {
		return w.timestamp
	}
	if given.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return given
}

// Close flushes the tar stream and the compression filter, in that order.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		return fmt.Errorf("archive: closing tar stream: %w", err)
	}
	if err := w.comp.Close(); err != nil {
		return fmt.Errorf("archive: closing filter: %w", err)
	}
	return nil
}

// Reader reads a package archive, auto-detecting its compression filter.
type Reader struct {
	tr     *tar.Reader
	Filter Filter
}

// NewReader opens r for reading, sniffing the filter from its magic bytes.
func NewReader(r io.Reader) (*Reader, error) {
	filter, sniffed, err := Sniff(r)
	if err != nil {
		return nil, err
	}
	decomp, err := newDecompressor(filter, sniffed)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s stream: %w", filter, err)
	}
	return &Reader{tr: tar.NewReader(decomp), Filter: filter}, nil
}

// Next returns the next Entry, or io.EOF when the stream is exhausted.
func (r *Reader) Next() (*Entry, error) {
	hdr, err := r.tr.Next()
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Name:     hdr.Name,
		Mode:     hdr.Mode,
		Size:     hdr.Size,
		ModTime:  hdr.ModTime,
		Uname:    hdr.Uname,
		Gname:    hdr.Gname,
		Typeflag: hdr.Typeflag,
		Linkname: hdr.Linkname,
	}
	if hdr.Typeflag == tar.TypeReg && hdr.Size > 0 {
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r.tr, body); err != nil {
			return nil, fmt.Errorf("archive: reading body for %s: %w", hdr.Name, err)
		}
		e.Body = body
	}
	return e, nil
}

// IsLeadingMember reports whether name is one of the fixed "+..." members
// that precede scripts/payload. Metadata-only readers use this to know
// when to stop (spec §4.2: "Readers that want only metadata MUST stop
// after the first non-'+...' entry").
func IsLeadingMember(name string) bool {
	for _, n := range leadingOrder {
		if n == name {
			return true
		}
	}
	return len(name) > 0 && name[0] == '+'
}

// StandardName returns the canonical output filename for a package archive
// (spec §4.2): "<name>-<version>.pkg".
func StandardName(name, ver string) string {
	return fmt.Sprintf("%s-%s.pkg", name, ver)
}

// CompatSymlinkName returns the optional backward-compatibility symlink
// name carrying the filter's conventional extension.
func CompatSymlinkName(name, ver string, filter Filter) string {
	ext := map[Filter]string{Gzip: "tgz", Bzip2: "tbz", XZ: "txz", Zstd: "tzst", None: "tar"}[filter]
	return fmt.Sprintf("%s-%s.%s", name, ver, ext)
}

// CreateFile opens path for writing a new package archive, refusing to
// clobber an existing file unless overwrite is true (spec §4.2).
func CreateFile(path string, overwrite bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("archive: %s already exists (overwrite not requested)", filepath.Base(path))
		}
		return nil, fmt.Errorf("archive: creating %s: %w", path, err)
	}
	return f, nil
}

// Package checksum computes the SHA-256 content hashes used throughout the
// core: per-file sums, the package-level manifest digest, and the short
// display/cache-naming form.
//
// The full-form/prefix-form split and the length-prefixed field hashing used
// by Digest are grounded on deb.Package.Digest (package.go) in the teacher
// repository, generalized from a fixed Debian field set to an arbitrary
// set of manifest fields hashed in sorted key order.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// PrefixLen is the number of hex characters kept in the short ("prefix")
// form used for cache-file naming and user display (spec §4.1).
const PrefixLen = 10

// Sum is a full 64-hex-character SHA-256 digest.
type Sum string

// Prefix returns the first PrefixLen hex characters of s.
func (s Sum) Prefix() string {
	if len(s) < PrefixLen {
		return string(s)
	}
	return string(s)[:PrefixLen]
}

func (s Sum) String() string { return string(s) }

// Empty reports whether s has no value (used for symlinks with no file
// bytes, which carry no checksum per the File entry data model).
func (s Sum) Empty() bool { return s == "" }

// File computes the full SHA-256 digest of r's bytes, in hex.
func File(r io.Reader) (Sum, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return Sum(hex.EncodeToString(h.Sum(nil))), nil
}

// Bytes is File over an in-memory buffer.
func Bytes(b []byte) Sum {
	sum := sha256.Sum256(b)
	return Sum(hex.EncodeToString(sum[:]))
}

// Symlink computes the checksum of a symlink entry, which per the data
// model is taken over the link target string rather than file bytes.
func Symlink(target string) Sum {
	return Bytes([]byte(target))
}

// Builder accumulates the canonical-ordered field set of a compact manifest
// and produces the package-level digest (spec §4.1): fields are hashed in
// lexicographic key order with no insignificant whitespace, each as a
// length-prefixed (len:value\x00) record so that no concatenation of two
// fields can collide with a different split of the same bytes.
type Builder struct {
	fields map[string]string
}

// NewBuilder returns an empty digest Builder.
func NewBuilder() *Builder {
	return &Builder{fields: make(map[string]string)}
}

// Add records a field's canonical string representation. Calling Add twice
// with the same key overwrites the previous value.
func (b *Builder) Add(key, value string) *Builder {
	b.fields[key] = value
	return b
}

// Sum finalizes the digest over all fields added so far, in sorted key
// order, mirroring deb.Package.Digest's field-hashing discipline.
func (b *Builder) Sum() Sum {
	keys := make([]string, 0, len(b.fields))
	for k := range b.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v := b.fields[k]
		fmt.Fprintf(h, "%d:%s\x00%d:%s\x00", len(k), k, len(v), v)
	}
	return Sum(hex.EncodeToString(h.Sum(nil)))
}

package rcc

import (
	"encoding/json"
	"fmt"

	"github.com/pkgcore/pkgcore/pkg/manifest"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// Descriptor is the small signed repository descriptor of spec §6: "a
// small signed JSON-ish document with fields version, packing_format,
// revision, digest, filename. The core requires only these fields." Any
// other field present is opaque and ignored, since the catalogue wire
// format itself is explicitly out of core scope (spec §1 non-goals).
type Descriptor struct {
	Version       string `json:"version"`
	PackingFormat string `json:"packing_format"`
	Revision      string `json:"revision"`
	Digest        string `json:"digest"`
	Filename      string `json:"filename"`
}

// ParseDescriptor extracts the five descriptor fields from an opaque
// document, ignoring any other keys present; a document lacking digest or
// filename is rejected as corrupt.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, pkgerr.New(pkgerr.Corrupt, "rcc: parsing repository descriptor", err)
	}
	if d.Digest == "" || d.Filename == "" {
		return Descriptor{}, pkgerr.New(pkgerr.Corrupt, "rcc: descriptor missing digest or filename", nil)
	}
	return d, nil
}

func manifestJSON(pkg *manifest.Package) (string, error) {
	b, err := manifest.Emit(pkg, manifest.Compact)
	if err != nil {
		return "", fmt.Errorf("rcc: emitting catalogue entry for %s: %w", pkg.Name, err)
	}
	return string(b), nil
}

func parseManifestJSON(data string) (*manifest.Package, error) {
	pkg, _, err := manifest.Parse([]byte(data))
	if err != nil {
		return nil, pkgerr.New(pkgerr.Corrupt, "rcc: parsing stored catalogue entry", err)
	}
	return pkg, nil
}

package rcc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkgcore/pkgcore/pkg/corectx"
	"github.com/pkgcore/pkgcore/pkg/event"
	"github.com/pkgcore/pkgcore/pkg/fetch"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// wireCatalogue is the document shape a mirror serves: the repository
// descriptor plus the full row set, wrapped together so one fetch yields
// both (the catalogue wire format itself is out of core scope per spec §1;
// this shape is this implementation's own choice of what to ask a
// fetch.Provider for).
type wireCatalogue struct {
	Descriptor Descriptor `json:"descriptor"`
	Rows       []wireRow  `json:"rows"`
}

type wireRow struct {
	Manifest      string `json:"manifest"`
	SourceURL     string `json:"source_url"`
	Size          int64  `json:"size"`
	PackingFormat string `json:"packing_format"`
}

// Update runs spec §4.5's three-step sync: fetch the repository's manifest,
// compare digests against the on-disk descriptor, and if changed, verify
// and atomically swap in the new catalogue. emit receives UP_TO_DATE when
// the digest is unchanged, mirroring LPDB's event-on-every-mutation style
// (pkg/event, grounded on manifest/events.go's Listener).
func (c *Catalogue) Update(ctx context.Context, repo corectx.Repository, provider fetch.Provider, emit event.Listener) error {
	if !repo.Enabled {
		return pkgerr.New(pkgerr.Config, fmt.Sprintf("rcc: repository %s is disabled", repo.Name), nil)
	}

	current, hasCurrent, err := c.CurrentDescriptor()
	if err != nil {
		return err
	}
	var ifModifiedSince time.Time // the provider decides staleness from the document itself, not HTTP freshness

	body, notModified, err := provider.Open(ctx, repo.BaseURL, ifModifiedSince)
	if err != nil {
		return fmt.Errorf("rcc: fetching catalogue for %s: %w", repo.Name, err)
	}
	if notModified {
		if emit != nil {
			emit(event.UpToDate(repo.Name))
		}
		return nil
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return pkgerr.New(pkgerr.IO, fmt.Sprintf("rcc: reading catalogue for %s", repo.Name), err)
	}

	verified, err := verifySignature(repo, raw)
	if err != nil {
		return err
	}

	var wire wireCatalogue
	if err := json.Unmarshal(verified, &wire); err != nil {
		return pkgerr.New(pkgerr.Corrupt, fmt.Sprintf("rcc: decoding catalogue for %s", repo.Name), err)
	}

	sum := sha256.Sum256(verified)
	digest := hex.EncodeToString(sum[:])
	if wire.Descriptor.Digest != "" && wire.Descriptor.Digest != digest {
		return pkgerr.New(pkgerr.Corrupt, fmt.Sprintf("rcc: catalogue digest mismatch for %s", repo.Name), nil)
	}
	wire.Descriptor.Digest = digest

	if hasCurrent && current.Digest == wire.Descriptor.Digest {
		if emit != nil {
			emit(event.UpToDate(repo.Name))
		}
		return nil
	}

	rows := make([]Row, 0, len(wire.Rows))
	for _, wr := range wire.Rows {
		pkg, err := parseManifestJSON(wr.Manifest)
		if err != nil {
			return fmt.Errorf("rcc: decoding catalogue entry for %s: %w", repo.Name, err)
		}
		rows = append(rows, Row{Package: *pkg, SourceURL: wr.SourceURL, Size: wr.Size, PackingFormat: wr.PackingFormat})
	}

	if err := c.replaceAll(wire.Descriptor, rows); err != nil {
		return err
	}
	if emit != nil {
		emit(event.RepoUpdated(repo.Name, wire.Descriptor.Digest, len(rows)))
	}
	return nil
}

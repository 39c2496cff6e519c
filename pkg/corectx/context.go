// Package corectx implements the §9 rearchitecture note: process-wide
// singletons for config, the event callback, and the repository list are
// replaced by a single explicit Context value threaded through every
// public LPDB/RCC/planner/executor call. Init returns a Context; Shutdown
// consumes it. Tests construct a fresh Context per test rather than
// resetting global state.
package corectx

import (
	"fmt"

	"github.com/pkgcore/pkgcore/internal/config"
	"github.com/pkgcore/pkgcore/pkg/event"
)

// MirrorMode is a repository's mirror discovery strategy (spec §4.5).
type MirrorMode string

const (
	MirrorNone MirrorMode = "none"
	MirrorSRV  MirrorMode = "srv"
	MirrorHTTP MirrorMode = "http-list"
)

// SignatureMode is a repository's catalogue signature verification mode
// (spec §4.5).
type SignatureMode string

const (
	SignatureNone        SignatureMode = "none"
	SignaturePubkey      SignatureMode = "pubkey"
	SignatureFingerprint SignatureMode = "fingerprint"
)

// Repository is one named remote catalogue source (spec §4.5). Repositories
// are held in Context in a deterministic order; RCC's "first match wins"
// traversal iterates Context.Repos as given.
type Repository struct {
	Name          string
	BaseURL       string
	Mirror        MirrorMode
	Signature     SignatureMode
	PubKeyPEM     string   // used when Signature == SignaturePubkey
	Trusted       []string // SHA-256 fingerprints, used when Signature == SignatureFingerprint
	Revoked       []string
	Enabled       bool
}

// Context bundles everything spec §9 identifies as process-wide singleton
// state in the original implementation: configuration, the event sink, and
// the repository list. A Context is a plain value; there is no global
// instance and no implicit destructor — callers obtain one from Init and
// must call Shutdown when done.
type Context struct {
	Config config.Config
	Repos  []Repository
	Emit   event.Listener

	pipeCloser interface{ Close() error }
}

// Init constructs a Context from cfg and repos. If cfg.EventPipe is set,
// events are additionally streamed to that path as newline-delimited JSON
// (spec §6); emit, if non-nil, always receives every event too, so callers
// can attach an in-process listener (e.g. for tests or a TUI) independent
// of EVENT_PIPE.
func Init(cfg config.Config, repos []Repository, emit event.Listener) (*Context, error) {
	listeners := []event.Listener{emit}
	var closer interface{ Close() error }
	if cfg.EventPipe != "" {
		pipeEmit, c, err := event.OpenPipe(cfg.EventPipe)
		if err != nil {
			return nil, fmt.Errorf("corectx: init: %w", err)
		}
		listeners = append(listeners, pipeEmit)
		closer = c
	}
	return &Context{
		Config:     cfg,
		Repos:      repos,
		Emit:       event.Multi(listeners...),
		pipeCloser: closer,
	}, nil
}

// Shutdown releases resources Init acquired (currently: the EVENT_PIPE
// file descriptor, per spec §5's "explicit init/shutdown with no reliance
// on implicit destructors").
func (c *Context) Shutdown() error {
	if c.pipeCloser != nil {
		return c.pipeCloser.Close()
	}
	return nil
}

// RepoByName returns the first repository named name, per RCC's
// deterministic-order traversal (spec §4.5).
func (c *Context) RepoByName(name string) (Repository, bool) {
	for _, r := range c.Repos {
		if r.Name == name && r.Enabled {
			return r, true
		}
	}
	return Repository{}, false
}

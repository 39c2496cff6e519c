package rcc

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// CleanCache removes every fetched artifact under cacheDir whose uid
// (the filename stem before its extension) is not in keep. This is the
// core's analogue of clean_cache.c, run after a commit when the
// AUTOCLEAN config flag (spec §6) is set, so only artifacts the just
// applied plan actually used survive in the cache.
func CleanCache(cacheDir string, keep map[string]bool) error {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerr.New(pkgerr.IO, "rcc: listing cache directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		uid := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if keep[uid] {
			continue
		}
		if err := os.Remove(filepath.Join(cacheDir, entry.Name())); err != nil {
			return pkgerr.New(pkgerr.IO, "rcc: removing stale cache artifact", err)
		}
	}
	return nil
}

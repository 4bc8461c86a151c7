package workdir

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/breezy-team/treekit/internal/codec"
	"github.com/breezy-team/treekit/tree"
)

const hashCacheFormat = "treekit-hashcache-1"

// hashCacheFile is the serialized cache.
type hashCacheFile struct {
	Format  string                    `cbor:"format"`
	Entries map[string]hashCacheEntry `cbor:"entries"`
}

type hashCacheEntry struct {
	Hash    tree.Hash `cbor:"hash"`
	Size    int64     `cbor:"size"`
	MTimeNS int64     `cbor:"mtime_ns"`
}

// hashCache remembers content digests observed for tree paths, keyed
// by tree-relative path and validated against size and mtime on
// lookup. It is a cache: a missing or unreadable file on disk means an
// empty cache, never an error.
type hashCache struct {
	path    string
	entries map[string]hashCacheEntry
	dirty   bool
}

func newHashCache(path string) *hashCache {
	hc := &hashCache{
		path:    path,
		entries: make(map[string]hashCacheEntry),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return hc
	}
	var f hashCacheFile
	if err := codec.Unmarshal(data, &f); err != nil || f.Format != hashCacheFormat {
		return hc
	}
	if f.Entries != nil {
		hc.entries = f.Entries
	}
	return hc
}

func (hc *hashCache) put(rel string, obs tree.Observation) {
	hc.entries[rel] = hashCacheEntry{
		Hash:    obs.Hash,
		Size:    obs.Size,
		MTimeNS: obs.ModTime.UnixNano(),
	}
	hc.dirty = true
}

// get returns the cached observation for rel if it still matches the
// stat attributes fi.
func (hc *hashCache) get(rel string, fi fs.FileInfo) (tree.Observation, bool) {
	ent, ok := hc.entries[rel]
	if !ok {
		return tree.Observation{}, false
	}
	if ent.Size != fi.Size() || ent.MTimeNS != fi.ModTime().UnixNano() {
		return tree.Observation{}, false
	}
	return tree.Observation{
		Hash:    ent.Hash,
		Size:    ent.Size,
		ModTime: fi.ModTime(),
	}, true
}

func (hc *hashCache) save() error {
	if !hc.dirty {
		return nil
	}
	data, err := codec.Marshal(hashCacheFile{Format: hashCacheFormat, Entries: hc.entries})
	if err != nil {
		return fmt.Errorf("encoding hash cache: %w", err)
	}
	if err := writeFileAtomic(hc.path, data); err != nil {
		return fmt.Errorf("writing hash cache: %w", err)
	}
	hc.dirty = false
	return nil
}

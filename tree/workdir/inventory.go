package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/breezy-team/treekit/internal/codec"
	"github.com/breezy-team/treekit/internal/pathutil"
	"github.com/breezy-team/treekit/tree"
)

// inventoryFormat names the on-disk encoding. Bump it when invRecord
// changes incompatibly.
const inventoryFormat = "treekit-inventory-1"

// invFile is the serialized inventory.
type invFile struct {
	Format  string      `cbor:"format"`
	Entries []invRecord `cbor:"entries"`
}

type invRecord struct {
	ID     string `cbor:"id"`
	Name   string `cbor:"name,omitempty"`
	Parent string `cbor:"parent,omitempty"`
	Kind   int    `cbor:"kind"`
	Exec   bool   `cbor:"exec,omitempty"`
	Target string `cbor:"target,omitempty"`
}

// inventory is the in-memory versioned state of a working tree:
// entries by file id plus a name index per directory. The root entry
// is the one with an empty ParentID.
type inventory struct {
	entries  map[tree.FileID]tree.Entry
	children map[tree.FileID]map[string]tree.FileID
	rootID   tree.FileID
}

func newInventory(rootID tree.FileID) *inventory {
	inv := &inventory{
		entries:  make(map[tree.FileID]tree.Entry),
		children: make(map[tree.FileID]map[string]tree.FileID),
	}
	inv.insert(tree.Entry{ID: rootID, Kind: tree.KindDirectory})
	return inv
}

func (inv *inventory) insert(ent tree.Entry) {
	inv.entries[ent.ID] = ent
	if ent.ParentID == "" {
		inv.rootID = ent.ID
		return
	}
	m := inv.children[ent.ParentID]
	if m == nil {
		m = make(map[string]tree.FileID)
		inv.children[ent.ParentID] = m
	}
	m[ent.Name] = ent.ID
}

func (inv *inventory) remove(id tree.FileID) {
	ent, ok := inv.entries[id]
	if !ok {
		return
	}
	delete(inv.entries, id)
	delete(inv.children, id)
	if ent.ParentID == "" {
		if inv.rootID == id {
			inv.rootID = ""
		}
		return
	}
	if m := inv.children[ent.ParentID]; m != nil && m[ent.Name] == id {
		delete(m, ent.Name)
	}
}

// pathByID returns the tree-relative path of id by climbing parent
// links to the root.
func (inv *inventory) pathByID(id tree.FileID) (string, bool) {
	ent, ok := inv.entries[id]
	if !ok {
		return "", false
	}
	var parts []string
	for ent.ParentID != "" {
		parts = append(parts, ent.Name)
		ent, ok = inv.entries[ent.ParentID]
		if !ok {
			return "", false
		}
	}
	if ent.ID != inv.rootID {
		return "", false
	}
	if len(parts) == 0 {
		return ".", true
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), true
}

// idByPath descends the name index from the root.
func (inv *inventory) idByPath(rel string) tree.FileID {
	if rel == "." {
		return inv.rootID
	}
	cur := inv.rootID
	if cur == "" {
		return ""
	}
	for _, comp := range strings.Split(rel, "/") {
		next, ok := inv.children[cur][comp]
		if !ok {
			return ""
		}
		cur = next
	}
	return cur
}

func (inv *inventory) clone() *inventory {
	next := &inventory{
		entries:  make(map[tree.FileID]tree.Entry, len(inv.entries)),
		children: make(map[tree.FileID]map[string]tree.FileID, len(inv.children)),
		rootID:   inv.rootID,
	}
	for id, ent := range inv.entries {
		next.entries[id] = ent
	}
	for id, m := range inv.children {
		cm := make(map[string]tree.FileID, len(m))
		for name, cid := range m {
			cm[name] = cid
		}
		next.children[id] = cm
	}
	return next
}

// apply installs a delta: removals first, then additions, validated on
// a copy so a rejected delta leaves the inventory untouched.
func (inv *inventory) apply(delta tree.Delta) error {
	for _, de := range delta {
		if de.NewPath == "" {
			continue
		}
		if de.Entry == nil {
			return fmt.Errorf("delta entry %q has a path but no metadata: %w", de.ID, tree.ErrInvalidDelta)
		}
		if de.Entry.ID != de.ID {
			return fmt.Errorf("delta entry id %q does not match metadata id %q: %w",
				de.ID, de.Entry.ID, tree.ErrInvalidDelta)
		}
		if !de.Entry.Kind.Versionable() {
			return fmt.Errorf("delta entry %q has unversionable kind %s: %w",
				de.ID, de.Entry.Kind, tree.ErrInvalidDelta)
		}
	}

	next := inv.clone()
	for _, de := range delta {
		if de.OldPath != "" {
			next.remove(de.ID)
		}
	}
	for _, de := range delta {
		if de.NewPath != "" {
			next.insert(*de.Entry)
		}
	}

	// Every added entry must sit under a directory and at the path the
	// delta claims.
	for _, de := range delta {
		if de.NewPath == "" {
			continue
		}
		if pid := de.Entry.ParentID; pid != "" {
			parent, ok := next.entries[pid]
			if !ok || parent.Kind != tree.KindDirectory {
				return fmt.Errorf("delta entry %q parent %q is not a directory: %w",
					de.ID, pid, tree.ErrInvalidDelta)
			}
		}
		want, _ := pathutil.Clean(de.NewPath)
		got, ok := next.pathByID(de.ID)
		if !ok || got != want {
			return fmt.Errorf("delta entry %q resolves to %q, delta says %q: %w",
				de.ID, got, want, tree.ErrInvalidDelta)
		}
	}

	*inv = *next
	return nil
}

func (inv *inventory) save(path string) error {
	recs := make([]invRecord, 0, len(inv.entries))
	for _, ent := range inv.entries {
		recs = append(recs, invRecord{
			ID:     string(ent.ID),
			Name:   ent.Name,
			Parent: string(ent.ParentID),
			Kind:   int(ent.Kind),
			Exec:   ent.Executable,
			Target: ent.SymlinkTarget,
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	data, err := codec.Marshal(invFile{Format: inventoryFormat, Entries: recs})
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing inventory: %w", err)
	}
	return nil
}

func loadInventory(path string) (*inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	var f invFile
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	if f.Format != inventoryFormat {
		return nil, fmt.Errorf("unsupported inventory format %q", f.Format)
	}
	inv := &inventory{
		entries:  make(map[tree.FileID]tree.Entry, len(f.Entries)),
		children: make(map[tree.FileID]map[string]tree.FileID),
	}
	for _, rec := range f.Entries {
		inv.insert(tree.Entry{
			ID:            tree.FileID(rec.ID),
			Name:          rec.Name,
			ParentID:      tree.FileID(rec.Parent),
			Kind:          tree.Kind(rec.Kind),
			Executable:    rec.Exec,
			SymlinkTarget: rec.Target,
		})
	}
	return inv, nil
}

// writeFileAtomic writes data to path through a temp file and rename,
// so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

package transform

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/breezy-team/treekit/tree"
)

// TransID is a handle onto one tree entry within a session: an
// existing entry, a staged new one, or a referenced absent one. Handles
// are only meaningful within the session that issued them.
type TransID int

const (
	// NoHandle is the zero TransID. No entry ever has it.
	NoHandle TransID = 0

	// RootParent is the synthetic parent of the tree root.
	RootParent TransID = -1
)

// State describes where a session is in its lifecycle.
type State int

const (
	// StateBuilding accepts pending changes.
	StateBuilding State = iota

	// StateValidated means the conflict gate passed and the metadata
	// delta is fixed; the tree is still untouched.
	StateValidated

	// StateRemoving means apply is moving entries out of the tree.
	StateRemoving

	// StateInserting means apply is moving staged entries in.
	StateInserting

	// StateCommitted means apply finished and metadata was installed.
	StateCommitted

	// StateAborted means apply failed; physical changes were rolled
	// back unless the error says otherwise.
	StateAborted
)

// String returns the lowercase name of the state.
func (st State) String() string {
	switch st {
	case StateBuilding:
		return "building"
	case StateValidated:
		return "validated"
	case StateRemoving:
		return "removing"
	case StateInserting:
		return "inserting"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

const (
	limboDirName      = "limbo"
	quarantineDirName = "pending-deletion"
)

// Session accumulates pending structural changes against a working
// tree and applies them in one two-phase pass. A Session is not safe
// for concurrent use.
//
// The session holds the tree write lock from New until Finalize. Every
// constructed session must be finalized, typically with defer; Apply
// finalizes on success.
type Session struct {
	wt     tree.WorkingTree
	fsys   tree.FS
	log    *slog.Logger
	id     string
	realFS bool

	state     State
	finalized bool
	idCounter int
	root      TransID

	// Pending changes, keyed by handle.
	newName          map[TransID]string
	newParent        map[TransID]TransID
	newContents      map[TransID]tree.Kind
	removedContents  map[TransID]struct{}
	newExecutability map[TransID]bool
	newID            map[TransID]tree.FileID
	rNewID           map[tree.FileID]TransID
	removedID        map[TransID]struct{}
	nonPresentIDs    map[tree.FileID]TransID

	// Handle <-> existing tree path, both directions.
	treePathIDs map[string]TransID
	treeIDPaths map[TransID]string

	observed       map[TransID]tree.Observation
	symlinkTargets map[TransID]string

	// Limbo staging state.
	limboDir           string
	quarantineDir      string
	limboFiles         map[TransID]string
	possiblyStale      map[string]struct{}
	limboChildren      map[TransID]map[TransID]struct{}
	limboChildrenNames map[TransID]map[string]TransID
	needsRename        map[TransID]struct{}

	creationTime  time.Time
	caseSensitive bool
	symlinksOK    bool
	fold          cases.Caser

	renameCount int

	// Caches for canonicalPath.
	realDirs map[string]string
	relPaths map[string]string
}

// New starts a session against wt, taking the tree write lock and
// claiming the limbo and pending deletion scratch directories.
// Leftover scratch state from a crashed process surfaces as
// ErrExistingLimbo or ErrExistingQuarantine.
func New(wt tree.WorkingTree, opts *Options) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = DefaultOptions().Logger
	}
	creationTime := opts.CreationTime
	if creationTime.IsZero() {
		creationTime = time.Now()
	}

	if err := wt.LockWrite(); err != nil {
		return nil, err
	}
	s := &Session{
		wt:     wt,
		fsys:   wt.FS(),
		log:    log,
		id:     uuid.NewString(),
		realFS: wt.RealFS(),

		newName:          make(map[TransID]string),
		newParent:        make(map[TransID]TransID),
		newContents:      make(map[TransID]tree.Kind),
		removedContents:  make(map[TransID]struct{}),
		newExecutability: make(map[TransID]bool),
		newID:            make(map[TransID]tree.FileID),
		rNewID:           make(map[tree.FileID]TransID),
		removedID:        make(map[TransID]struct{}),
		nonPresentIDs:    make(map[tree.FileID]TransID),

		treePathIDs: make(map[string]TransID),
		treeIDPaths: make(map[TransID]string),

		observed:       make(map[TransID]tree.Observation),
		symlinkTargets: make(map[TransID]string),

		limboFiles:         make(map[TransID]string),
		possiblyStale:      make(map[string]struct{}),
		limboChildren:      make(map[TransID]map[TransID]struct{}),
		limboChildrenNames: make(map[TransID]map[string]TransID),
		needsRename:        make(map[TransID]struct{}),

		creationTime:  creationTime,
		caseSensitive: wt.CaseSensitive(),
		symlinksOK:    wt.SupportsSymlinks(),
		fold:          cases.Fold(),

		realDirs: make(map[string]string),
		relPaths: make(map[string]string),
	}

	limboDir, err := wt.ScratchDir(limboDirName)
	if err != nil {
		wt.Unlock()
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %v", ErrExistingLimbo, err)
		}
		return nil, err
	}
	s.limboDir = limboDir

	quarantineDir, err := wt.ScratchDir(quarantineDirName)
	if err != nil {
		wt.Unlock()
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %v", ErrExistingQuarantine, err)
		}
		return nil, err
	}
	s.quarantineDir = quarantineDir

	s.root = s.transIDForTreePath(".")
	return s, nil
}

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Root returns the handle of the tree root.
func (s *Session) Root() TransID { return s.root }

// RenameCount returns the physical renames performed so far.
func (s *Session) RenameCount() int { return s.renameCount }

// ensureBuilding rejects mutation once a session has been applied or
// finalized.
func (s *Session) ensureBuilding() error {
	if s.finalized || s.state != StateBuilding {
		return ErrSessionSpent
	}
	return nil
}

// newHandle issues the next TransID.
func (s *Session) newHandle() TransID {
	s.idCounter++
	return TransID(s.idCounter)
}

// joinPhys joins physical path components in the tree's namespace.
func (s *Session) joinPhys(dir, name string) string {
	if s.realFS {
		return filepath.Join(dir, name)
	}
	return path.Join(dir, name)
}

// splitPhys splits a physical path into directory and base name.
func (s *Session) splitPhys(p string) (dir, base string) {
	if s.realFS {
		return filepath.Dir(p), filepath.Base(p)
	}
	return path.Dir(p), path.Base(p)
}

// foldName normalizes a name for comparison on case-insensitive trees.
func (s *Session) foldName(name string) string {
	return s.fold.String(name)
}

// Finalize releases the session: staged limbo content is destroyed,
// the scratch directories are removed, and the tree lock is released.
// It is idempotent and safe to defer alongside Apply, which calls it
// after committing.
func (s *Session) Finalize() (err error) {
	if s.finalized {
		return nil
	}
	s.finalized = true
	if s.state != StateCommitted {
		s.state = StateAborted
	}
	defer func() {
		if uerr := s.wt.Unlock(); err == nil && uerr != nil {
			err = uerr
		}
	}()

	limboPaths := make([]string, 0, len(s.limboFiles)+len(s.possiblyStale))
	for _, p := range s.limboFiles {
		limboPaths = append(limboPaths, p)
	}
	for p := range s.possiblyStale {
		limboPaths = append(limboPaths, p)
	}
	// Children sort after their parents, so delete in reverse.
	sort.Sort(sort.Reverse(sort.StringSlice(limboPaths)))
	for _, p := range limboPaths {
		if rerr := s.fsys.Remove(p); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = fmt.Errorf("cleaning limbo: %w", rerr)
		}
	}

	if s.limboDir != "" {
		if rerr := s.fsys.Remove(s.limboDir); rerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrImmortalLimbo, rerr)
		}
	}
	if s.quarantineDir != "" {
		if rerr := s.fsys.Remove(s.quarantineDir); rerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrImmortalQuarantine, rerr)
		}
	}
	return err
}

// Package mirror implements the directory mirroring engine.
//
// The engine keeps a destination tree consistent with a source tree through
// two paths: full reconciliation passes (TreeReconciler) and live filesystem
// event translation (MirrorEventTranslator). Both paths decide which entries
// are in scope via ExclusionPolicy, map paths via PathMapper and route every
// destination mutation through a single serialized apply point (Applier), so
// a reconciliation pass and a live event never write the same destination
// path concurrently.
//
// All filesystem access goes through an injected afero.Fs, which keeps the
// engine deterministic under test.
package mirror

import (
	"io/fs"
	"time"
)

// EntryKind distinguishes files from directories in a scan.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

// Entry is a discovered filesystem node, relative to the source root. It is
// produced during a scan or derived from an event and never persisted.
type Entry struct {
	// RelPath is relative to the source root, using the platform separator.
	RelPath string
	Kind    EntryKind

	// ModTime and Size are only meaningful for files.
	ModTime time.Time
	Size    int64
	Mode    fs.FileMode
}

// IsDir reports whether the entry names a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDirectory }

// ScanResult is the ordered sequence of entries produced by one reconciler
// scan. Parents always precede their children. It is consumed once and then
// discarded; each scan recomputes from the live filesystem.
type ScanResult struct {
	Entries []Entry
	// FileCount is the number of file entries, used for progress milestones.
	FileCount int
}

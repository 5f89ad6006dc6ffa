package mirror

import (
	"path/filepath"
	"strings"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
)

// ExclusionPolicy decides membership of a path in the sync scope. It is a
// pure function of the configuration: folder exclusions prune whole subtrees
// by directory basename, filename exclusions match the filename without its
// extension and filetype exclusions match the extension including the
// leading dot. An empty exclusion set disables that filter dimension
// entirely.
//
// Matching is case-sensitive and exact on all three dimensions.
type ExclusionPolicy struct {
	folderNames map[string]struct{}
	fileNames   map[string]struct{}
	fileTypes   map[string]struct{}
}

// NewExclusionPolicy builds the policy from the configured exclusion sets.
func NewExclusionPolicy(cfg config.SyncConfig) *ExclusionPolicy {
	return &ExclusionPolicy{
		folderNames: toSet(cfg.ExcludedFolderNames),
		fileNames:   toSet(cfg.ExcludedFileNames),
		fileTypes:   toSet(cfg.ExcludedFileTypes),
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// PrunesDirectory reports whether traversal must not descend into a
// directory with the given basename. When true, nothing beneath that
// directory is ever considered, regardless of the other filters.
func (p *ExclusionPolicy) PrunesDirectory(name string) bool {
	if len(p.folderNames) == 0 {
		return false
	}
	_, excluded := p.folderNames[name]
	return excluded
}

// Includes reports whether a file entry is in the sync scope. Directories
// are never subject to Includes; they are handled by PrunesDirectory during
// traversal, so a directory entry always passes.
func (p *ExclusionPolicy) Includes(e Entry) bool {
	if e.IsDir() {
		return true
	}
	return p.includesFileName(filepath.Base(e.RelPath))
}

// includesFileName applies the filename and filetype dimensions to a file's
// basename.
func (p *ExclusionPolicy) includesFileName(name string) bool {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	// A dotfile like ".gitignore" is a bare name, not an extension.
	if base == "" {
		base, ext = name, ""
	}

	if len(p.fileNames) > 0 {
		if _, excluded := p.fileNames[base]; excluded {
			return false
		}
	}
	if len(p.fileTypes) > 0 {
		if _, excluded := p.fileTypes[ext]; excluded {
			return false
		}
	}
	return true
}

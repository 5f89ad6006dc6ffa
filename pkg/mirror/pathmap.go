package mirror

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathMapper converts between source-relative and destination-relative
// paths. It is a pure string join over the two roots and never inspects the
// filesystem. For every relative path p,
// RelativeOf(destRoot, ToDest(p)) == p and
// RelativeOf(sourceRoot, ToSource(p)) == p.
type PathMapper struct {
	sourceRoot string
	destRoot   string
}

// NewPathMapper builds a mapper over two absolute, cleaned roots.
func NewPathMapper(sourceRoot, destRoot string) PathMapper {
	return PathMapper{
		sourceRoot: filepath.Clean(sourceRoot),
		destRoot:   filepath.Clean(destRoot),
	}
}

// SourceRoot returns the absolute source root.
func (m PathMapper) SourceRoot() string { return m.sourceRoot }

// DestRoot returns the absolute destination root.
func (m PathMapper) DestRoot() string { return m.destRoot }

// ToDest maps a source-relative path to its absolute destination path.
func (m PathMapper) ToDest(relPath string) string {
	return filepath.Join(m.destRoot, relPath)
}

// ToSource maps a source-relative path to its absolute source path.
func (m PathMapper) ToSource(relPath string) string {
	return filepath.Join(m.sourceRoot, relPath)
}

// SourceRel returns the path of absPath relative to the source root.
func (m PathMapper) SourceRel(absPath string) (string, error) {
	return RelativeOf(m.sourceRoot, absPath)
}

// DestRel returns the path of absPath relative to the destination root.
func (m PathMapper) DestRel(absPath string) (string, error) {
	return RelativeOf(m.destRoot, absPath)
}

// RelativeOf returns the path of absPath relative to root, failing when
// absPath does not live under root.
func RelativeOf(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path of %s under %s: %w", absPath, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside root %s", absPath, root)
	}
	return rel, nil
}

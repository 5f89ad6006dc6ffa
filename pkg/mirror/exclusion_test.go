package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
)

func file(relPath string) Entry {
	return Entry{RelPath: relPath, Kind: KindFile}
}

func TestPrunesDirectory(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFolderNames: []string{"node_modules", ".git"},
	})

	assert.True(t, policy.PrunesDirectory("node_modules"))
	assert.True(t, policy.PrunesDirectory(".git"))
	assert.False(t, policy.PrunesDirectory("src"))
	// Matching is exact and case-sensitive.
	assert.False(t, policy.PrunesDirectory("Node_Modules"))
}

func TestPrunesDirectoryEmptySet(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{})
	assert.False(t, policy.PrunesDirectory("node_modules"))
	assert.False(t, policy.PrunesDirectory(""))
}

func TestIncludesFileNameDimension(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFileNames: []string{"Thumbs", "desktop"},
	})

	// The filename is matched without its extension.
	assert.False(t, policy.Includes(file("pics/Thumbs.db")))
	assert.False(t, policy.Includes(file("desktop.ini")))
	assert.True(t, policy.Includes(file("pics/holiday.db")))
	// The extension is not part of the name dimension.
	assert.True(t, policy.Includes(file("Thumbs.db/notes.txt")))
}

func TestIncludesFileTypeDimension(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFileTypes: []string{".log", ".tmp"},
	})

	assert.False(t, policy.Includes(file("app.log")))
	assert.False(t, policy.Includes(file("deep/nested/cache.tmp")))
	assert.True(t, policy.Includes(file("app.txt")))
	// Only the final extension counts.
	assert.False(t, policy.Includes(file("archive.tar.log")))
	assert.True(t, policy.Includes(file("log"))) // no extension at all
}

func TestIncludesDotfiles(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFileNames: []string{".gitignore"},
		ExcludedFileTypes: []string{".env"},
	})

	// A dotfile is all name and no extension.
	assert.False(t, policy.Includes(file(".gitignore")))
	assert.True(t, policy.Includes(file(".env")))
	assert.False(t, policy.Includes(file("config/app.env")))
	// With a real extension the leading dot stays part of the name.
	assert.False(t, policy.Includes(file(".gitignore.txt")))
	assert.True(t, policy.Includes(file(".bashrc")))
}

func TestIncludesBothDimensions(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFileNames: []string{"secret"},
		ExcludedFileTypes: []string{".bak"},
	})

	assert.False(t, policy.Includes(file("secret.txt")))
	assert.False(t, policy.Includes(file("data.bak")))
	assert.False(t, policy.Includes(file("secret.bak")))
	assert.True(t, policy.Includes(file("data.txt")))
}

func TestIncludesEmptySetsAreVacuouslyPassing(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{})
	assert.True(t, policy.Includes(file("anything.log")))
	assert.True(t, policy.Includes(file("Thumbs.db")))
}

func TestIncludesNeverFiltersDirectories(t *testing.T) {
	policy := NewExclusionPolicy(config.SyncConfig{
		ExcludedFileNames: []string{"build"},
		ExcludedFileTypes: []string{".log"},
	})

	assert.True(t, policy.Includes(Entry{RelPath: "build", Kind: KindDirectory}))
	assert.True(t, policy.Includes(Entry{RelPath: "some.log", Kind: KindDirectory}))
}

// Package config loads and validates the mirror pair configuration.
//
// The configuration is a single JSON file describing one source→destination
// pair plus the declarative exclusion rules. All exclusion arrays default to
// empty; a missing backup-src or backup-dest is fatal.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// DefaultConfigFileName is the config file looked up when no -config flag is given.
const DefaultConfigFileName = "pgl-mirror.config.json"

// envPrefix allows overriding any config key via PGL_MIRROR_* variables.
const envPrefix = "PGL_MIRROR"

// ErrConfig marks a missing or malformed required configuration field.
// Errors wrapping it abort engine construction; there is no retry.
var ErrConfig = errors.New("invalid configuration")

// SyncConfig describes one source→destination mirror pair. It is created
// once from the external configuration, owned exclusively by the engine and
// never mutated after Validate.
type SyncConfig struct {
	// SourceRoot is the directory tree being mirrored.
	SourceRoot string `json:"backup-src" mapstructure:"backup-src"`
	// DestRoot is the mirror destination tree.
	DestRoot string `json:"backup-dest" mapstructure:"backup-dest"`
	// ExcludedFolderNames prunes whole subtrees by directory basename.
	ExcludedFolderNames []string `json:"folder-exclusions" mapstructure:"folder-exclusions"`
	// ExcludedFileNames is matched against the filename without its extension.
	ExcludedFileNames []string `json:"filename-exclusions" mapstructure:"filename-exclusions"`
	// ExcludedFileTypes is matched against the extension including the leading dot.
	ExcludedFileTypes []string `json:"filetype-exclusions" mapstructure:"filetype-exclusions"`

	// LogLevel is optional: 'debug', 'notice', 'info', 'warn' or 'error'.
	LogLevel string `json:"log-level,omitempty" mapstructure:"log-level"`
	// LogFile is optional: when set, logs are additionally written to this
	// rotating file.
	LogFile string `json:"log-file,omitempty" mapstructure:"log-file"`
}

// NewDefault returns a config with empty roots (forcing user configuration)
// and empty exclusion sets.
func NewDefault() SyncConfig {
	return SyncConfig{
		ExcludedFolderNames: []string{},
		ExcludedFileNames:   []string{},
		ExcludedFileTypes:   []string{},
		LogLevel:            "info",
	}
}

// Load reads the JSON config file at the given path. Exclusion arrays that
// are absent from the file default to empty; PGL_MIRROR_* environment
// variables override individual keys.
func Load(path string) (SyncConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("folder-exclusions", []string{})
	v.SetDefault("filename-exclusions", []string{})
	v.SetDefault("filetype-exclusions", []string{})
	v.SetDefault("log-level", "info")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return SyncConfig{}, fmt.Errorf("%w: config file %s does not exist", ErrConfig, path)
		}
		return SyncConfig{}, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	plog.Info("Loading configuration", "path", path)

	cfg := NewDefault()
	if err := v.Unmarshal(&cfg); err != nil {
		return SyncConfig{}, fmt.Errorf("%w: decoding %s: %v", ErrConfig, path, err)
	}
	return cfg, nil
}

// Generate creates or overwrites a default config file at the given path.
func Generate(path string, cfg SyncConfig) error {
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(path, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and canonicalizes the
// two roots. After a successful Validate both roots are absolute, cleaned,
// distinct and neither is a descendant of the other.
func (c *SyncConfig) Validate() error {
	if c.SourceRoot == "" {
		return fmt.Errorf("%w: backup-src cannot be empty", ErrConfig)
	}
	if c.DestRoot == "" {
		return fmt.Errorf("%w: backup-dest cannot be empty", ErrConfig)
	}

	var err error
	if c.SourceRoot, err = canonicalizePath(c.SourceRoot); err != nil {
		return fmt.Errorf("%w: backup-src: %v", ErrConfig, err)
	}
	if c.DestRoot, err = canonicalizePath(c.DestRoot); err != nil {
		return fmt.Errorf("%w: backup-dest: %v", ErrConfig, err)
	}

	if c.SourceRoot == c.DestRoot {
		return fmt.Errorf("%w: backup-src and backup-dest cannot be the same directory", ErrConfig)
	}
	if util.IsDescendant(c.SourceRoot, c.DestRoot) {
		return fmt.Errorf("%w: backup-dest %s is inside backup-src %s", ErrConfig, c.DestRoot, c.SourceRoot)
	}
	if util.IsDescendant(c.DestRoot, c.SourceRoot) {
		return fmt.Errorf("%w: backup-src %s is inside backup-dest %s", ErrConfig, c.SourceRoot, c.DestRoot)
	}

	for _, ext := range c.ExcludedFileTypes {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: filetype-exclusions entry %q must include the leading dot", ErrConfig, ext)
		}
	}

	// Repeated entries in the exclusion lists are harmless but noisy in logs.
	c.ExcludedFolderNames = util.MergeAndDeduplicate(c.ExcludedFolderNames)
	c.ExcludedFileNames = util.MergeAndDeduplicate(c.ExcludedFileNames)
	c.ExcludedFileTypes = util.MergeAndDeduplicate(c.ExcludedFileTypes)
	return nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *SyncConfig) LogSummary() {
	logArgs := []any{
		"source", c.SourceRoot,
		"dest", c.DestRoot,
		"log_level", c.LogLevel,
	}
	if len(c.ExcludedFolderNames) > 0 {
		logArgs = append(logArgs, "folder_exclusions", strings.Join(c.ExcludedFolderNames, ", "))
	}
	if len(c.ExcludedFileNames) > 0 {
		logArgs = append(logArgs, "filename_exclusions", strings.Join(c.ExcludedFileNames, ", "))
	}
	if len(c.ExcludedFileTypes) > 0 {
		logArgs = append(logArgs, "filetype_exclusions", strings.Join(c.ExcludedFileTypes, ", "))
	}
	if c.LogFile != "" {
		logArgs = append(logArgs, "log_file", c.LogFile)
	}
	plog.Info("Configuration loaded", logArgs...)
}

// canonicalizePath expands, cleans and absolutizes a configured path.
func canonicalizePath(path string) (string, error) {
	expanded, err := util.ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %v", path, err)
	}
	return filepath.Clean(abs), nil
}

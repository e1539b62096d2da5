package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RAGSTORE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedSections are second-level sections whose env names would otherwise
// collapse into a single field name (RAGSTORE_STORE_QDRANT_HOST).
var nestedSections = []string{"qdrant", "sampling", "output", "metrics", "caller", "stacktrace"}

// Loader holds merged file and environment configuration. Packages that
// own their config struct (logging, telemetry) unmarshal their section
// from the same Loader.
type Loader struct {
	k    *koanf.Koanf
	path string
}

// DefaultPath returns ~/.config/ragstore/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragstore", "config.yaml"), nil
}

// NewLoader reads the YAML file at path (if it exists) and overlays
// RAGSTORE_* environment variables.
//
// Precedence, highest first: environment, file, defaults.
//
//	RAGSTORE_EMBEDDINGS_MODEL       -> embeddings.model
//	RAGSTORE_CHUNKING_SIZE          -> chunking.size
//	RAGSTORE_STORE_QDRANT_HOST      -> store.qdrant.host
//
// An empty path means DefaultPath. A missing file is not an error.
func NewLoader(path string) (*Loader, error) {
	k := koanf.New(".")

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file %s: %v", ragerr.ErrInvalidParameter, path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return &Loader{k: k, path: path}, nil
}

// Path returns the config file path the loader considered.
func (l *Loader) Path() string {
	return l.path
}

// Unmarshal decodes one section into out. out should be pre-populated with
// defaults; keys absent from file and environment keep their value.
func (l *Loader) Unmarshal(section string, out interface{}) error {
	if err := l.k.Unmarshal(section, out); err != nil {
		return fmt.Errorf("%w: failed to decode %q: %v", ragerr.ErrInvalidParameter, section, err)
	}
	return nil
}

// Config decodes, defaults and validates the root configuration.
func (l *Loader) Config() (*Config, error) {
	cfg := Config{Ingest: IngestConfig{ScrubSecrets: true}}
	if err := l.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithFile is shorthand for NewLoader(path) followed by Config.
func LoadWithFile(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// envKey maps RAGSTORE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]
	for _, nested := range nestedSections {
		if strings.HasPrefix(field, nested+"_") {
			return section + "." + nested + "." + strings.TrimPrefix(field, nested+"_")
		}
	}
	return section + "." + field
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor so the checked file is the read file.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFile(info); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ragerr.ErrInvalidParameter, path, err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFile(info fs.FileInfo) error {
	if !info.Mode().IsRegular() {
		return errors.New("config path is not a regular file")
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("config file is group or world writable (%o)", info.Mode().Perm())
	}
	return nil
}

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the daemon configuration.
type Config struct {
	Server  ServerConfig   `toml:"server"`
	Library LibraryConfig  `toml:"library"`
	Logging LoggingConfig  `toml:"logging"`
	Embed   ProviderConfig `toml:"embed"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LibraryConfig names the default library root. The on-disk state of a
// library (index.sqlite, pdf/thumb caches, logs) always lives under
// <root>/.slidemanager regardless of where the daemon runs from.
type LibraryConfig struct {
	Root string `toml:"root"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ProviderConfig holds the text-embedding provider endpoint. The API
// key is only ever read from the environment, never from file.
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5123,
		},
		Library: LibraryConfig{
			Root: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Embed: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
		},
	}
}

// LoadFromFiles loads configuration from zero or more TOML files with
// priority: defaults -> file1 -> file2 -> ... -> environment. Later
// files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Library.Root != "" {
		if abs, err := filepath.Abs(config.Library.Root); err == nil {
			config.Library.Root = abs
		}
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("APP_BACKEND_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("APP_BACKEND_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if root := os.Getenv("LECTERN_LIBRARY_ROOT"); root != "" {
		config.Library.Root = root
	}
	if level := os.Getenv("LECTERN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		config.Embed.BaseURL = base
	}
}

// StateDir returns the hidden state directory for a library root.
func StateDir(libraryRoot string) string {
	return filepath.Join(libraryRoot, ".slidemanager")
}

// DatabasePath returns the catalog database path for a library root.
func DatabasePath(libraryRoot string) string {
	return filepath.Join(StateDir(libraryRoot), "index.sqlite")
}

// LogDir returns the log directory for a library root.
func LogDir(libraryRoot string) string {
	return filepath.Join(StateDir(libraryRoot), "logs")
}

// PDFCacheDir returns the job-local PDF conversion cache for a root.
func PDFCacheDir(libraryRoot string) string {
	return filepath.Join(StateDir(libraryRoot), "pdf")
}

// ThumbDir returns the thumbnail directory for one file of a root.
func ThumbDir(libraryRoot string, fileID int64) string {
	return filepath.Join(StateDir(libraryRoot), "thumbs", strconv.FormatInt(fileID, 10))
}

// ModelAssetPath returns the optional local image-embedding model file.
func ModelAssetPath(libraryRoot string) string {
	return filepath.Join(libraryRoot, "cache", "image_embedder.onnx")
}

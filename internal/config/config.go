// Package config loads the layered TOML configuration the core consults for
// the knobs spec.md leaves as collaborator-owned elsewhere (hash algorithm,
// compression, fsmonitor, executable-bit policy), the way
// modules/zeta/config loads system/global/repo TOML layers 
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	EnvSystemConfig = "WISP_CONFIG_SYSTEM"

	DefaultHashAlgorithm  = "BLAKE3"
	DefaultCompression    = "zstd"
	DefaultMaxNewFileSize = 1 << 30 // 1 GiB, spec §4.5 "honor max_new_file_size"
)

// Core holds the subset of configuration the core subsystems read directly.
type Core struct {
	HashAlgorithm   string `toml:"hash_algorithm,omitempty"`
	Compression     string `toml:"compression,omitempty"`
	MaxNewFileSize  int64  `toml:"max_new_file_size,omitempty"`
	FsmonitorEnable bool   `toml:"fsmonitor,omitempty"`
	// ExecBitIgnore forces FileState.ExecFlag to Ignore even on platforms
	// that do support the executable bit; used in tests.
	ExecBitIgnore bool `toml:"exec_bit_ignore,omitempty"`
}

// Config is the merged view of system, global (user), and repository layers.
type Config struct {
	Core Core `toml:"core"`
}

func defaults() Config {
	return Config{Core: Core{
		HashAlgorithm:  DefaultHashAlgorithm,
		Compression:    DefaultCompression,
		MaxNewFileSize: DefaultMaxNewFileSize,
	}}
}

func systemPath() string {
	if p, ok := os.LookupEnv(EnvSystemConfig); ok {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	prefix := filepath.Dir(exe)
	if filepath.Base(prefix) == "bin" {
		prefix = filepath.Dir(prefix)
	}
	return filepath.Join(prefix, "etc", "wisp.toml")
}

func globalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wispconfig")
}

func mergeFile(cfg *Config, path string) error {
	if len(path) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// Load merges system, global, and repository ("<repoDir>/.wisp/config")
// layers in that order, each overriding fields the previous layer set.
func Load(repoDir string) (*Config, error) {
	cfg := defaults()
	if err := mergeFile(&cfg, systemPath()); err != nil {
		return nil, err
	}
	if err := mergeFile(&cfg, globalPath()); err != nil {
		return nil, err
	}
	if len(repoDir) != 0 {
		if err := mergeFile(&cfg, filepath.Join(repoDir, ".wisp", "config")); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package xdg locates hsgmembers files under the XDG base directories.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "hsgmembers"

// configFileName is the file looked for in ConfigDir when no --config is given.
const configFileName = "config.yaml"

// ConfigDir returns the XDG config directory for hsgmembers.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of config.yaml in ConfigDir, or ""
// when that file does not exist.
func DefaultConfigFile() (string, error) {
	path := filepath.Join(ConfigDir(), configFileName)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("CONFIG_LOOKUP_FAILED").With("path", path).Wrap(err)
	}
	if info.IsDir() {
		return "", oops.Code("CONFIG_LOOKUP_FAILED").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil resolves and reads the user provided files: configurations and settings files.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ExpandHome replaces a leading "~" or "~user" in filePath by the corresponding home directory.
// Other paths are returned unchanged.
func ExpandHome(filePath string) (string, error) {
	rest, found := strings.CutPrefix(filePath, "~")
	if !found {
		return filePath, nil
	}
	userName, rest, _ := strings.Cut(rest, string(filepath.Separator))
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to find home directory for path %q", filePath)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// ReadFile reads the whole file after expanding the home directory in filePath.
func ReadFile(filePath string) ([]byte, error) {
	resolved, err := ExpandHome(filePath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", resolved)
	}
	return contents, nil
}

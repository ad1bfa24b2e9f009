/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileStore persists the bearer token across process restarts. The token is
// written as a small JSON document with owner-only permissions.
type fileStore struct {
	path string
}

type storedToken struct {
	Token string `json:"token"`
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

// Load reads the persisted token. A missing file is not an error; it returns
// an empty token.
func (s *fileStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("auth: reading token store: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("auth: parsing token store: %w", err)
	}
	return st.Token, nil
}

// Save writes the token atomically via a temp file rename.
func (s *fileStore) Save(token string) error {
	data, err := json.Marshal(storedToken{Token: token})
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("auth: creating token store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: writing token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: replacing token store: %w", err)
	}
	return nil
}

// Clear removes the persisted token. A missing file is not an error.
func (s *fileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("auth: removing token store: %w", err)
	}
	return nil
}

// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package keystore implements identity.KeyStorage as JWK-encoded files
// under a directory, one file per key ID, written with 0600 perms.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/identity/formats"
)

type fileKeyStorage struct {
	directory string
	exporter  identity.KeyExporter
	importer  identity.KeyImporter
	mu        sync.RWMutex
}

type keyFileData struct {
	Type   identity.KeyType   `json:"type"`
	Format identity.KeyFormat `json:"format"`
	Data   string             `json:"data"`
	ID     string             `json:"id"`
}

// New creates a file-based key storage rooted at directory, creating
// it with 0700 permissions if absent.
func New(directory string) (identity.KeyStorage, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("create key storage directory: %w", err)
	}
	return &fileKeyStorage{
		directory: directory,
		exporter:  formats.NewExporter(),
		importer:  formats.NewImporter(),
	}, nil
}

func validateKeyID(id string) error {
	if strings.Contains(id, "/") || strings.Contains(id, "\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid key ID: %s", id)
	}
	return nil
}

func (s *fileKeyStorage) Store(id string, kp identity.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateKeyID(id); err != nil {
		return err
	}

	jwkData, err := s.exporter.Export(kp, identity.KeyFormatJWK)
	if err != nil {
		return fmt.Errorf("export key: %w", err)
	}

	fileData := keyFileData{
		Type:   kp.Type(),
		Format: identity.KeyFormatJWK,
		Data:   string(jwkData),
		ID:     kp.ID(),
	}
	jsonData, err := json.MarshalIndent(fileData, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key data: %w", err)
	}

	filename := filepath.Join(s.directory, id+".key")
	if err := os.WriteFile(filename, jsonData, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (s *fileKeyStorage) Load(id string) (identity.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := validateKeyID(id); err != nil {
		return nil, err
	}

	filename := filepath.Join(s.directory, id+".key")
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, identity.ErrKeyNotFound
	}

	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var fileData keyFileData
	if err := json.Unmarshal(jsonData, &fileData); err != nil {
		return nil, fmt.Errorf("unmarshal key data: %w", err)
	}

	kp, err := s.importer.Import([]byte(fileData.Data), fileData.Format)
	if err != nil {
		return nil, fmt.Errorf("import key: %w", err)
	}
	return kp, nil
}

func (s *fileKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateKeyID(id); err != nil {
		return err
	}

	filename := filepath.Join(s.directory, id+".key")
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return identity.ErrKeyNotFound
	}
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

func (s *fileKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".key") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".key"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fileKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := validateKeyID(id); err != nil {
		return false
	}
	filename := filepath.Join(s.directory, id+".key")
	_, err := os.Stat(filename)
	return err == nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access implements bearer-token access control: the on-disk
// token store and the per-request access filter.
package access

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/aleutian-oss/llmgateway/internal/datatypes"
)

// TokenStore is the in-memory, file-backed mapping of access tokens.
// All mutation goes through Create/Revoke, which persist immediately;
// admin operations never run on the serving path.
//
// # Thread Safety
//
// Safe for concurrent reads and writes.
type TokenStore struct {
	mu     sync.RWMutex
	path   string
	tokens map[string]datatypes.AccessTokenRecord
}

// LoadTokenStore reads path. A missing file or an unparseable file both
// yield an empty store without error.
func LoadTokenStore(path string) (*TokenStore, error) {
	store := &TokenStore{path: path, tokens: make(map[string]datatypes.AccessTokenRecord)}

	b, err := os.ReadFile(path)
	if err != nil {
		return store, nil
	}

	var file datatypes.TokenStoreFile
	if err := json.Unmarshal(b, &file); err != nil {
		return store, nil
	}
	if file.Tokens != nil {
		store.tokens = file.Tokens
	}
	return store, nil
}

// Save persists the store to its backing path as a TokenStoreFile.
func (s *TokenStore) Save() error {
	s.mu.RLock()
	snapshot := make(map[string]datatypes.AccessTokenRecord, len(s.tokens))
	for k, v := range s.tokens {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(datatypes.TokenStoreFile{Tokens: snapshot}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

// Get returns the record for token, if any.
func (s *TokenStore) Get(token string) (datatypes.AccessTokenRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[token]
	return rec, ok
}

// Snapshot returns a copy of every token->record mapping.
func (s *TokenStore) Snapshot() map[string]datatypes.AccessTokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]datatypes.AccessTokenRecord, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Create mints a fresh 32-byte-hex token, stores it, persists the store,
// and returns the new token value.
func (s *TokenStore) Create(note string, models []string) (string, error) {
	token, err := newHexToken()
	if err != nil {
		return "", err
	}

	rec := datatypes.AccessTokenRecord{Note: note, Models: models, CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	s.tokens[token] = rec
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke removes token and persists the store. A revoke of an unknown
// token is a no-op (still persists, for idempotence).
func (s *TokenStore) Revoke(token string) error {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	return s.Save()
}

func newHexToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

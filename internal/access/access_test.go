// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTokenStoreMissingFileIsEmpty(t *testing.T) {
	store, err := LoadTokenStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot())
}

func TestLoadTokenStoreUnparseableFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	store, err := LoadTokenStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot())
}

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")

	store, err := LoadTokenStore(path)
	require.NoError(t, err)

	token, err := store.Create("ci token", []string{"baseball", "assistant"})
	require.NoError(t, err)
	require.Len(t, token, 64)

	before := store.Snapshot()

	reloaded, err := LoadTokenStore(path)
	require.NoError(t, err)
	assert.Equal(t, before, reloaded.Snapshot())
}

func TestTokenStoreRevoke(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	store, err := LoadTokenStore(path)
	require.NoError(t, err)

	token, err := store.Create("temp", []string{"baseball"})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(token))
	_, ok := store.Get(token)
	assert.False(t, ok)
}

func TestAuthenticateRules(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadTokenStore(filepath.Join(dir, "tokens.json"))
	require.NoError(t, err)
	token, err := store.Create("t1", []string{"baseball"})
	require.NoError(t, err)

	lax := NewFilter(store, false)
	strict := NewFilter(store, true)

	// Rule 1: no token, not strict -> none.
	assert.Equal(t, OutcomeNone, lax.Authenticate("").Outcome)
	// Rule 2: no token, strict -> rejected 401.
	r := strict.Authenticate("")
	assert.Equal(t, OutcomeRejected, r.Outcome)
	assert.Equal(t, 401, r.Status)
	// Rule 3: unknown token, not strict -> none.
	assert.Equal(t, OutcomeNone, lax.Authenticate("Bearer nope").Outcome)
	// Rule 4: unknown token, strict -> rejected 401.
	r = strict.Authenticate("Bearer nope")
	assert.Equal(t, OutcomeRejected, r.Outcome)
	// Rule 5: valid token -> allowed with its models.
	r = lax.Authenticate("Bearer " + token)
	assert.Equal(t, OutcomeAllowed, r.Outcome)
	assert.Equal(t, []string{"baseball"}, r.Allowed)
}

func TestExtractTokenCaseInsensitiveScheme(t *testing.T) {
	assert.Equal(t, "abc123", ExtractToken("bearer abc123"))
	assert.Equal(t, "abc123", ExtractToken("Bearer abc123"))
	assert.Equal(t, "", ExtractToken("Basic abc123"))
	assert.Equal(t, "", ExtractToken(""))
}

// Scenario 6: strict-mode access filter.
func TestScenario_StrictModeAccessFilter(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadTokenStore(filepath.Join(dir, "tokens.json"))
	require.NoError(t, err)
	t1, err := store.Create("T1", []string{"baseball"})
	require.NoError(t, err)

	strict := NewFilter(store, true)
	configured := []string{"baseball", "assistant"}

	r := strict.Authenticate("Bearer " + t1)
	pass, status, _ := strict.GlobalGate(r, configured, false)
	assert.True(t, pass)
	assert.Equal(t, 0, status)
	assert.Equal(t, []string{"baseball"}, r.Allowed)

	noToken := strict.Authenticate("")
	pass, status, body := strict.GlobalGate(noToken, configured, false)
	assert.False(t, pass)
	assert.Equal(t, 403, status)
	assert.Contains(t, body, "Forbidden")

	t2, err := store.Create("no-overlap", []string{"other"})
	require.NoError(t, err)
	noOverlap := strict.Authenticate("Bearer " + t2)
	pass, status, body = strict.GlobalGate(noOverlap, configured, false)
	assert.False(t, pass)
	assert.Equal(t, 403, status)
	assert.Contains(t, body, "does not grant access")
}

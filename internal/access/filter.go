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

import "strings"

// Outcome classifies the result of Authenticate.
type Outcome int

const (
	// OutcomeNone means no access filter applies: every configured model
	// is allowed (no token, strict mode off; or an unknown token,
	// strict mode off).
	OutcomeNone Outcome = iota
	// OutcomeAllowed means a valid token was presented; Allowed holds its
	// model set.
	OutcomeAllowed
	// OutcomeRejected means the request must be rejected with Status/Body.
	OutcomeRejected
)

// Result is the outcome of Authenticate.
type Result struct {
	Outcome Outcome
	Allowed []string
	Status  int
	Body    string
}

// Filter applies the gateway access-control rules against a
// TokenStore.
type Filter struct {
	store  *TokenStore
	strict bool
}

// NewFilter constructs a Filter bound to store, operating in strict
// mode when strict is true (server's --require-token flag).
func NewFilter(store *TokenStore, strict bool) *Filter {
	return &Filter{store: store, strict: strict}
}

// Strict reports whether strict mode is enabled.
func (f *Filter) Strict() bool {
	return f.strict
}

// ExtractToken pulls the bearer token out of an Authorization header
// value, matching "Bearer" case-insensitively. Returns "" if absent or
// malformed.
func ExtractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate classifies authHeader into one of the three outcomes.
func (f *Filter) Authenticate(authHeader string) Result {
	token := ExtractToken(authHeader)

	if token == "" {
		if !f.strict {
			return Result{Outcome: OutcomeNone}
		}
		return Result{Outcome: OutcomeRejected, Status: 401, Body: "Authorization required"}
	}

	rec, ok := f.store.Get(token)
	if !ok {
		if !f.strict {
			return Result{Outcome: OutcomeNone}
		}
		return Result{Outcome: OutcomeRejected, Status: 401, Body: "Invalid token"}
	}

	return Result{Outcome: OutcomeAllowed, Allowed: rec.Models}
}

// GlobalGate implements the strict-mode global gate that precedes
// per-endpoint auth: it rejects 403 if the token is missing/invalid, or
// if the token's models don't intersect configuredModels. preflight
// exempts CORS OPTIONS requests unconditionally; everything else,
// health and version included, needs a valid overlapping token in
// strict mode. Callers pass the already-computed Authenticate Result
// so this function does not re-authenticate.
//
// Returns (pass, status, body). pass is true when the request may
// proceed to per-endpoint auth.
func (f *Filter) GlobalGate(result Result, configuredModels []string, preflight bool) (bool, int, string) {
	if preflight {
		return true, 0, ""
	}
	if !f.strict {
		return true, 0, ""
	}
	if result.Outcome != OutcomeAllowed {
		return false, 403, "Forbidden: valid bearer token required"
	}
	if !intersects(result.Allowed, configuredModels) {
		return false, 403, "Forbidden: token does not grant access to any available model"
	}
	return true, 0, ""
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, m := range b {
		set[m] = true
	}
	for _, m := range a {
		if set[m] {
			return true
		}
	}
	return false
}

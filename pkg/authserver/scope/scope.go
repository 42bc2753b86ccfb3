// SPDX-FileCopyrightText: Copyright 2026 The Aegis Authors
// SPDX-License-Identifier: Apache-2.0

// Package scope implements scope validation and resolution. A scope is a
// string of whitespace-separated tokens; the sentinel "*" means all scopes
// and is reserved to internal clients.
package scope

import (
	"sort"
	"strings"
)

// Wildcard is the sentinel meaning "all scopes".
const Wildcard = "*"

// Split breaks a scope string into its tokens. Empty input yields nil.
func Split(s string) []string {
	return strings.Fields(s)
}

// Join assembles tokens into a canonical scope string (sorted, deduplicated).
// Ordering of tokens in a scope is not significant; sorting keeps results
// stable for comparison and persistence.
func Join(tokens []string) string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// Validate reports whether requested is acceptable for a client holding
// clientScope. A wildcard client scope accepts anything except the wildcard
// itself: callers may never request "*". Otherwise every requested token
// must appear in the client's scope.
func Validate(clientScope, requested string) bool {
	reqTokens := Split(requested)
	if len(reqTokens) == 0 {
		return false
	}

	if clientScope == Wildcard {
		for _, tok := range reqTokens {
			if tok == Wildcard {
				return false
			}
		}
		return true
	}

	allowed := tokenSet(clientScope)
	for _, tok := range reqTokens {
		if _, ok := allowed[tok]; !ok {
			return false
		}
	}
	return true
}

// Merge resolves the scope granted to an issued token from the subject's
// scope, the scope named in the request (may be empty) and the client's
// declared scope. Callers must have validated requestScope against the
// client first; Merge assumes it is either empty or valid.
func Merge(subjectScope, requestScope, clientScope string) string {
	if requestScope != "" {
		if requestScope == Wildcard {
			return subjectScope
		}
		if subjectScope == Wildcard {
			return requestScope
		}
		return Intersect(subjectScope, requestScope)
	}

	if clientScope == Wildcard {
		return subjectScope
	}
	if subjectScope == Wildcard {
		return clientScope
	}
	return Intersect(subjectScope, clientScope)
}

// Intersect returns the tokens present in both scopes, in canonical form.
func Intersect(a, b string) string {
	bSet := tokenSet(b)
	var common []string
	for _, tok := range Split(a) {
		if _, ok := bSet[tok]; ok {
			common = append(common, tok)
		}
	}
	return Join(common)
}

// Subset reports whether every token of sub appears in super. A wildcard
// super admits anything.
func Subset(sub, super string) bool {
	if super == Wildcard {
		return true
	}
	superSet := tokenSet(super)
	for _, tok := range Split(sub) {
		if _, ok := superSet[tok]; !ok {
			return false
		}
	}
	return true
}

func tokenSet(s string) map[string]struct{} {
	tokens := Split(s)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

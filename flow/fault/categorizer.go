package fault

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Matcher maps errors to a category. An error matches when it satisfies the
// type predicate, or when its message contains one of the patterns
// (case-insensitive).
type Matcher struct {
	// Patterns are substrings searched for in the error message.
	Patterns []string

	// Types is a predicate over the error chain. When non-nil it is tried
	// before the message patterns.
	Types func(error) bool

	// Category assigned on match.
	Category Category
}

// Categorizer assigns a Category to arbitrary errors.
//
// Matching order: first matcher whose type predicate accepts the error wins;
// otherwise the first matcher with a message substring hit wins; otherwise a
// small set of intrinsic fallbacks applies; otherwise CategoryUnknown.
//
// Categorizer is safe for concurrent use. Register additional matchers at
// startup; registration after categorization has begun is allowed but the
// new matcher only applies to subsequent calls.
type Categorizer struct {
	mu       sync.RWMutex
	matchers []Matcher
}

// NewCategorizer returns a Categorizer preloaded with the default matchers.
func NewCategorizer() *Categorizer {
	return &Categorizer{matchers: defaultMatchers()}
}

// Register appends a matcher. Later registrations have lower priority than
// earlier ones.
func (c *Categorizer) Register(m Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchers = append(c.matchers, m)
}

// Categorize returns the category for err. A nil error is CategoryUnknown.
func (c *Categorizer) Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	c.mu.RLock()
	matchers := c.matchers
	c.mu.RUnlock()

	// Type predicates take priority over message patterns.
	for _, m := range matchers {
		if m.Types != nil && m.Types(err) {
			return m.Category
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range matchers {
		for _, p := range m.Patterns {
			if p != "" && strings.Contains(msg, strings.ToLower(p)) {
				return m.Category
			}
		}
	}

	return intrinsicCategory(err)
}

// intrinsicCategory applies the built-in fallbacks for well-known error
// kinds that carry their category in their type.
func intrinsicCategory(err error) Category {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return CategoryPermission
	}
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return CategorySecurity
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryLogical
	}
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return CategoryStateInvalid
	}
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return CategoryDependency
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryTransient
	}
	return CategoryUnknown
}

// defaultMatchers covers the common message shapes produced by network
// stacks, databases, and HTTP clients.
func defaultMatchers() []Matcher {
	return []Matcher{
		{
			Patterns: []string{
				"connection refused", "connection reset", "broken pipe",
				"temporarily unavailable", "try again", "service unavailable",
				"too many requests", "eof",
			},
			Category: CategoryTransient,
		},
		{
			Patterns: []string{"deadline exceeded", "timed out", "timeout"},
			Category: CategoryTimeout,
		},
		{
			Patterns: []string{
				"out of memory", "no space left", "disk full",
				"quota exceeded", "rate limit", "resource exhausted",
			},
			Category: CategoryResource,
		},
		{
			Patterns: []string{"permission denied", "access denied", "forbidden", "unauthorized"},
			Category: CategoryPermission,
		},
		{
			Patterns: []string{"invalid token", "signature", "certificate", "tls handshake"},
			Category: CategorySecurity,
		},
		{
			Patterns: []string{"dependency", "upstream", "bad gateway"},
			Category: CategoryDependency,
		},
		{
			Patterns: []string{"invalid state", "state mismatch", "inconsistent"},
			Category: CategoryStateInvalid,
		},
		{
			Patterns: []string{"invalid", "validation", "malformed", "parse error", "assertion"},
			Category: CategoryLogical,
		},
	}
}

package fault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dshills/agentflow-go/flow/fault"
)

func TestCategorizeByMessage(t *testing.T) {
	c := fault.NewCategorizer()

	tests := []struct {
		name string
		err  error
		want fault.Category
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), fault.CategoryTransient},
		{"reset", errors.New("read: Connection Reset by peer"), fault.CategoryTransient},
		{"timeout", errors.New("operation timed out"), fault.CategoryTimeout},
		{"disk", errors.New("write /tmp/x: no space left on device"), fault.CategoryResource},
		{"rate limit", errors.New("rate limit exceeded"), fault.CategoryResource},
		{"forbidden", errors.New("403 Forbidden"), fault.CategoryPermission},
		{"tls", errors.New("tls handshake failure"), fault.CategorySecurity},
		{"upstream", errors.New("upstream returned 502"), fault.CategoryDependency},
		{"state", errors.New("invalid state transition"), fault.CategoryStateInvalid},
		{"validation", errors.New("validation failed for field x"), fault.CategoryLogical},
		{"unknown", errors.New("something odd happened"), fault.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestCategorizeByType(t *testing.T) {
	c := fault.NewCategorizer()

	tests := []struct {
		name string
		err  error
		want fault.Category
	}{
		{"access error", &fault.AccessError{Name: "x", Message: "nope"}, fault.CategoryPermission},
		{"validation error", &fault.ValidationError{Name: "x", Message: "bad type"}, fault.CategoryLogical},
		{"state error", &fault.StateError{Message: "version skew"}, fault.CategoryStateInvalid},
		{"security error", &fault.SecurityError{Message: "bad signature"}, fault.CategorySecurity},
		{"wrapped dependency", fmt.Errorf("step failed: %w", &fault.DependencyError{Dependency: "db", Cause: errors.New("gone")}), fault.CategoryDependency},
		{"deadline", context.DeadlineExceeded, fault.CategoryTimeout},
		{"canceled", context.Canceled, fault.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCategorizeTypePriority(t *testing.T) {
	// A type matcher wins over message patterns even when the message also
	// matches a pattern from another matcher.
	c := fault.NewCategorizer()
	c.Register(fault.Matcher{
		Types: func(e error) bool {
			var se *fault.SecurityError
			return errors.As(e, &se)
		},
		Category: fault.CategorySecurity,
	})
	err := &fault.SecurityError{Message: "connection refused during auth"}
	if got := c.Categorize(err); got != fault.CategorySecurity {
		t.Errorf("type matcher should win, got %s", got)
	}
}

func TestRegisterCustomMatcher(t *testing.T) {
	c := fault.NewCategorizer()
	c.Register(fault.Matcher{
		Patterns: []string{"flux capacitor"},
		Category: fault.CategoryDependency,
	})
	if got := c.Categorize(errors.New("the Flux Capacitor is offline")); got != fault.CategoryDependency {
		t.Errorf("custom matcher not applied, got %s", got)
	}
}

func TestCategoryFatal(t *testing.T) {
	if !fault.CategorySecurity.Fatal() || !fault.CategoryPermission.Fatal() {
		t.Error("security and permission must be fatal")
	}
	if fault.CategoryTransient.Fatal() {
		t.Error("transient must not be fatal")
	}
}

func TestCategorizeNil(t *testing.T) {
	c := fault.NewCategorizer()
	if got := c.Categorize(nil); got != fault.CategoryUnknown {
		t.Errorf("nil error = %s, want unknown", got)
	}
}

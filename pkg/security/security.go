// Package security provides validation, sanitization, and limits for the stint engine.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/stintio/stint/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeNameLength is the maximum length for job type names
	MaxJobTypeNameLength = 255

	// MaxJobArgsSize is the maximum size in bytes for job arguments (1MB)
	MaxJobArgsSize = 1 << 20

	// MaxAttempts is the hard limit for retry attempts per item
	MaxAttempts = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxBudgetNameLength is the maximum length for quota budget names
	MaxBudgetNameLength = 255

	// MaxDependencyNameLength is the maximum length for dependency names
	MaxDependencyNameLength = 255

	// MaxUniqueKeyLength is the maximum length for unique keys
	MaxUniqueKeyLength = 255

	// MaxCheckpointSize is the maximum encoded size of a checkpoint
	// record (8KB). Key-value backends cap individual values; checkpoints
	// stay well under the cap by never carrying item payloads.
	MaxCheckpointSize = 8 << 10
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobTypeName validates a job type name
func ValidateJobTypeName(name string) error {
	if name == "" {
		return core.ErrInvalidJobTypeName
	}
	if len(name) > MaxJobTypeNameLength {
		return core.ErrJobTypeNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidJobTypeName
	}
	return nil
}

// ValidateBudgetName validates a quota budget name
func ValidateBudgetName(name string) error {
	if name == "" || len(name) > MaxBudgetNameLength || !validName.MatchString(name) {
		return core.ErrInvalidBudgetName
	}
	return nil
}

// ValidateDependencyName validates a circuit breaker dependency name
func ValidateDependencyName(name string) error {
	if name == "" || len(name) > MaxDependencyNameLength || !validName.MatchString(name) {
		return core.ErrInvalidDependencyName
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures retry attempt count is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ValidateUniqueKey validates a unique key length
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return core.ErrUniqueKeyTooLong
	}
	return nil
}

// ValidateJobArgs validates job argument size
func ValidateJobArgs(args []byte) error {
	if len(args) > MaxJobArgsSize {
		return core.ErrJobArgsTooLarge
	}
	return nil
}

// ValidateCheckpointSize validates an encoded checkpoint record
func ValidateCheckpointSize(raw []byte) error {
	if len(raw) > MaxCheckpointSize {
		return core.ErrCheckpointTooLarge
	}
	return nil
}

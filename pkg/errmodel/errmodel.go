package errmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category values for compact errors.
const (
	// CategoryResume marks a resume token that is no longer retained or is malformed.
	// Resume failures are expected outcomes of the protocol under test.
	CategoryResume = "resume"
	// CategoryClosed marks an operation attempted on a closed stream.
	CategoryClosed = "closed"
	// CategorySetup marks an unreachable or unconfigurable event source.
	CategorySetup = "setup"
	// CategoryVerification marks an ordering, completeness or identity check that failed.
	CategoryVerification = "verification"
	CategoryValidation   = "validation"
	CategorySystem       = "system"
)

// Common codes.
const (
	CodeHistoryLost  = "history_lost"
	CodeInvalidToken = "invalid_token"
	CodeStreamClosed = "stream_closed"
	CodeUnreachable  = "unreachable"
)

// Error is the compact error payload recorded in test results and used internally.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	// Default to system/internal for unknown error types.
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors.
func Resume(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryResume, code, message, ctx, cause)
	}
	return New(CategoryResume, code, message, ctx)
}

func Closed(message string) *Error {
	return New(CategoryClosed, CodeStreamClosed, message, nil)
}

func Setup(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySetup, code, message, ctx, cause)
	}
	return New(CategorySetup, code, message, ctx)
}

func Verification(code, message string, ctx map[string]any) *Error {
	return New(CategoryVerification, code, message, ctx)
}

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int64, uint64, bool, float64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
// Only errors that carry a compact Error in their chain are categorized.
func IsCategory(err error, category string) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return strings.EqualFold(ce.Category, category)
}

func IsResume(err error) bool { return IsCategory(err, CategoryResume) }
func IsClosed(err error) bool { return IsCategory(err, CategoryClosed) }
func IsSetup(err error) bool  { return IsCategory(err, CategorySetup) }

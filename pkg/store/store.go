// Package store defines the contracts of a resumable change-event source.
// Implementations must provide identical delivery semantics across backends
// so the same verification scenarios can run against any of them.
package store

import (
	"context"
	"encoding/hex"
	"time"
	"unicode"
)

// ResumeToken is an opaque position marker in a change stream.
// Tokens are immutable values compared by their encoded form. A sequence
// source may stamp the tokens it hands out with their issue time, so two
// tokens for one position are not always Equal.
type ResumeToken struct {
	raw string
}

// TokenFromBytes wraps backend-specific token bytes.
func TokenFromBytes(b []byte) ResumeToken { return ResumeToken{raw: string(b)} }

// Bytes returns a copy of the token's encoded form.
func (t ResumeToken) Bytes() []byte { return []byte(t.raw) }

// IsZero reports whether the token marks no position at all.
func (t ResumeToken) IsZero() bool { return t.raw == "" }

// Equal reports whether both tokens mark the same position.
func (t ResumeToken) Equal(o ResumeToken) bool { return t.raw == o.raw }

// String renders the token for logs; binary tokens are hex encoded.
func (t ResumeToken) String() string {
	for _, r := range t.raw {
		if !unicode.IsPrint(r) {
			return hex.EncodeToString([]byte(t.raw))
		}
	}
	return t.raw
}

// Position selects where a new stream starts.
type Position struct {
	after   ResumeToken
	fromNow bool
}

// FromNow opens a stream that delivers only events appended after it is opened.
func FromNow() Position { return Position{fromNow: true} }

// After opens a stream whose first delivered event is the one immediately after tok.
func After(tok ResumeToken) Position { return Position{after: tok} }

// IsNow reports whether the position is the live head of the log.
func (p Position) IsNow() bool { return p.fromNow }

// Token returns the resume token of an After position; it is zero for FromNow.
func (p Position) Token() ResumeToken { return p.after }

// String renders the position for logs.
func (p Position) String() string {
	if p.fromNow {
		return "now"
	}
	return "after:" + p.after.String()
}

// Event is a single change event. Events are immutable once produced.
type Event struct {
	// ID is the appended document's stable identity.
	ID string `json:"id"`
	// Token is the event's sequence marker. Sources that learn the position
	// only on delivery leave it zero on the event returned by Append.
	Token ResumeToken `json:"-"`
	// Payload is the appended document, without its identity field.
	Payload    map[string]any `json:"payload"`
	InsertedAt time.Time      `json:"inserted_at"`
}

// Stream is a live subscription opened on a Source.
// A Stream has exactly one consumer; it is not safe for concurrent Next calls.
type Stream interface {
	// Next waits up to timeout for the next event. ok is false with a nil
	// error when the timeout elapses. After Close, Next fails with a
	// closed-category errmodel error.
	Next(ctx context.Context, timeout time.Duration) (ev Event, ok bool, err error)
	// Token marks the position immediately after the most recently delivered
	// event, or the opening position if nothing was delivered yet.
	Token() ResumeToken
	// Close releases the subscription. It is idempotent.
	Close() error
}

// Source is an ordered, appendable log of documents that can be watched.
type Source interface {
	// Reset drops all retained history and prepares the log for a run.
	Reset(ctx context.Context) error
	// Open starts a stream at pos. A token that is no longer retained or is
	// malformed fails with a resume-category errmodel error.
	Open(ctx context.Context, pos Position) (Stream, error)
	// Append adds a document; it is visible to every open stream positioned before it.
	Append(ctx context.Context, payload map[string]any) (Event, error)
	Close() error
}

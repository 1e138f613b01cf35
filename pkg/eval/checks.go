// Package eval holds the delivery checks applied to collected change events.
// Each check returns nil or a verification-category errmodel error whose
// context pinpoints the first offending position.
package eval

import (
	"fmt"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
)

// Verification codes.
const (
	CodeCountMismatch = "count_mismatch"
	CodeDuplicate     = "duplicate_event"
	CodeGap           = "gap"
	CodeReplay        = "replayed_event"
	CodeUnexpected    = "unexpected_event"
	CodeOutOfOrder    = "out_of_order"
)

// CheckNoDuplicates fails if any event appears twice across batches, keyed
// by sequence marker and by document identity.
func CheckNoDuplicates(batches ...[]store.Event) error {
	seenTok := make(map[string]int)
	seenID := make(map[string]int)
	n := 0
	for _, b := range batches {
		for _, ev := range b {
			if !ev.Token.IsZero() {
				key := string(ev.Token.Bytes())
				if first, ok := seenTok[key]; ok {
					return errmodel.Verification(CodeDuplicate, "sequence marker delivered twice", map[string]any{"first": first, "again": n, "token": ev.Token.String()})
				}
				seenTok[key] = n
			}
			if ev.ID != "" {
				if first, ok := seenID[ev.ID]; ok {
					return errmodel.Verification(CodeDuplicate, "document delivered twice", map[string]any{"first": first, "again": n, "id": ev.ID})
				}
				seenID[ev.ID] = n
			}
			n++
		}
	}
	return nil
}

// CheckOrdered fails unless delivered events appear in strictly increasing
// append order. Events missing from appended are ignored here.
func CheckOrdered(delivered, appended []store.Event) error {
	index := appendIndex(appended)
	last := -1
	for i, ev := range delivered {
		pos, ok := index[ev.ID]
		if !ok {
			continue
		}
		if pos <= last {
			return errmodel.Verification(CodeOutOfOrder, "event delivered out of append order", map[string]any{"position": i, "id": ev.ID})
		}
		last = pos
	}
	return nil
}

// CheckExact fails unless delivered is exactly expected, in order.
// It distinguishes a gap (an expected event was skipped) from a replay
// (something delivered earlier than expected, typically a pre-resume event).
func CheckExact(delivered, expected []store.Event) error {
	if err := CheckOrdered(delivered, expected); err != nil {
		return err
	}
	index := appendIndex(expected)
	for i := 0; i < len(delivered) && i < len(expected); i++ {
		if delivered[i].ID == expected[i].ID {
			continue
		}
		ctx := map[string]any{"position": i, "want": expected[i].ID, "got": delivered[i].ID}
		if pos, ok := index[delivered[i].ID]; ok && pos > i {
			return errmodel.Verification(CodeGap, fmt.Sprintf("skipped %d expected event(s)", pos-i), ctx)
		}
		if _, ok := index[delivered[i].ID]; !ok {
			return errmodel.Verification(CodeReplay, "delivered an event outside the expected set", ctx)
		}
		return errmodel.Verification(CodeUnexpected, "unexpected event", ctx)
	}
	if len(delivered) != len(expected) {
		return errmodel.Verification(CodeCountMismatch, fmt.Sprintf("delivered %d events, want %d", len(delivered), len(expected)), map[string]any{"got": len(delivered), "want": len(expected)})
	}
	return nil
}

func appendIndex(events []store.Event) map[string]int {
	out := make(map[string]int, len(events))
	for i, ev := range events {
		out[ev.ID] = i
	}
	return out
}

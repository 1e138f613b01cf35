// Package collector pulls a bounded number of events from a stream.
package collector

import (
	"context"
	"time"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
)

// StopReason records why collection ended.
type StopReason string

const (
	StopComplete StopReason = "complete"
	StopTimeout  StopReason = "timeout"
	StopClosed   StopReason = "closed"
)

// Batch is the outcome of one Collect call.
type Batch struct {
	Events []store.Event
	// Token marks the position right after the last event in Events, or the
	// stream's position at the start when nothing was delivered.
	Token store.ResumeToken
	Stop  StopReason
	// Interrupt holds the closed-stream error when Stop is StopClosed.
	Interrupt error
}

// Partial reports whether fewer events than requested were collected.
func (b Batch) Partial() bool { return b.Stop != StopComplete }

// Collect pulls up to count events from s, waiting at most perEventTimeout
// for each. A timeout or a closed stream ends collection early without an
// error; the batch then holds whatever was delivered. Any other stream
// failure is returned together with the partial batch.
//
// Collect borrows s for the duration of the call and never closes it.
func Collect(ctx context.Context, s store.Stream, count int, perEventTimeout time.Duration) (Batch, error) {
	b := Batch{Token: s.Token(), Stop: StopComplete}
	if count > 0 {
		b.Events = make([]store.Event, 0, count)
	}
	for len(b.Events) < count {
		ev, ok, err := s.Next(ctx, perEventTimeout)
		if err != nil {
			if errmodel.IsClosed(err) {
				b.Stop = StopClosed
				b.Interrupt = err
				return b, nil
			}
			return b, err
		}
		if !ok {
			b.Stop = StopTimeout
			return b, nil
		}
		b.Events = append(b.Events, ev)
		b.Token = s.Token()
	}
	return b, nil
}

// Package fault simulates transport failures against a stream consumer.
package fault

import (
	"time"

	"github.com/wilhg/changeverify/pkg/store"
)

// Injector models a network partition by closing a stream and pausing.
// It never touches the event source. The zero value sleeps on the wall clock.
type Injector struct {
	// Sleep suspends the caller; nil means time.Sleep.
	Sleep func(time.Duration)
}

// SimulateDisconnect closes s, discarding further delivery, then blocks for d.
// The pause is not cancellable. The close error, if any, is returned after the pause.
func (i Injector) SimulateDisconnect(s store.Stream, d time.Duration) error {
	err := s.Close()
	sleep := i.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	if d > 0 {
		sleep(d)
	}
	return err
}

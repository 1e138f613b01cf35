// Package memstore provides an in-process change-event source with an
// optional retention window. It is intended for tests and local runs.
package memstore

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
)

// Option configures the Store at construction time.
type Option func(*Store)

// WithRetention keeps events for d after they were appended; 0 keeps everything.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock replaces the wall clock used for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type record struct {
	seq int64
	ev  store.Event
}

// Store is an in-memory store.Source.
type Store struct {
	mu        sync.Mutex
	logID     string
	events    []record // retained events; events[k].seq == prunedSeq+1+k
	lastSeq   int64
	prunedSeq int64
	changed   chan struct{}
	closed    bool

	retention time.Duration
	now       func() time.Time
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logID:   uuid.NewString(),
		changed: make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset drops every event and starts a new log; tokens issued before are rejected.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errmodel.Closed("memstore: source closed")
	}
	s.logID = uuid.NewString()
	s.events = nil
	s.lastSeq = 0
	s.prunedSeq = 0
	s.notifyLocked()
	return nil
}

// Append adds a document to the log and wakes waiting streams.
func (s *Store) Append(ctx context.Context, payload map[string]any) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Event{}, errmodel.Closed("memstore: source closed")
	}
	s.pruneLocked()
	s.lastSeq++
	ev := store.Event{
		ID:         uuid.NewString(),
		Token:      store.SeqToken(s.logID, s.lastSeq),
		Payload:    maps.Clone(payload),
		InsertedAt: s.now().UTC(),
	}
	s.events = append(s.events, record{seq: s.lastSeq, ev: ev})
	s.notifyLocked()
	return ev, nil
}

// Open starts a stream at pos.
func (s *Store) Open(ctx context.Context, pos store.Position) (store.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errmodel.Closed("memstore: source closed")
	}
	s.pruneLocked()
	if pos.IsNow() {
		return newStream(s, s.lastSeq, store.IssuedSeqToken(s.logID, s.lastSeq, s.now())), nil
	}
	p, err := store.ParseSeqToken(pos.Token(), s.logID)
	if err != nil {
		return nil, err
	}
	if err := store.CheckRetained(p, s.headLocked()); err != nil {
		return nil, err
	}
	return newStream(s, p.Seq, pos.Token()), nil
}

// Close wakes every waiting stream; subsequent calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.notifyLocked()
	}
	return nil
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Store) headLocked() store.LogHead {
	h := store.LogHead{LastSeq: s.lastSeq, PrunedSeq: s.prunedSeq}
	if s.retention > 0 {
		h.Cutoff = s.now().Add(-s.retention)
	}
	return h
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) pruneLocked() {
	if s.retention <= 0 || len(s.events) == 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	i := 0
	for i < len(s.events) && s.events[i].ev.InsertedAt.Before(cutoff) {
		s.prunedSeq = s.events[i].seq
		i++
	}
	if i > 0 {
		s.events = append([]record(nil), s.events[i:]...)
	}
}

// after returns the event following seq, or a channel closed on the next change.
func (s *Store) after(seq int64, logID string) (store.Event, bool, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Event{}, false, nil, errmodel.Closed("memstore: source closed")
	}
	if logID != s.logID {
		return store.Event{}, false, nil, errmodel.Resume(errmodel.CodeHistoryLost, "log was reset under an open stream", nil, nil)
	}
	if seq < s.prunedSeq {
		return store.Event{}, false, nil, errmodel.Resume(errmodel.CodeHistoryLost, "next event was pruned before delivery", map[string]any{"seq": seq, "pruned_seq": s.prunedSeq}, nil)
	}
	idx := seq - s.prunedSeq
	if idx < int64(len(s.events)) {
		return s.events[idx].ev, true, nil, nil
	}
	return store.Event{}, false, s.changed, nil
}

type stream struct {
	src   *Store
	logID string
	pos   int64
	token store.ResumeToken

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newStream(src *Store, pos int64, tok store.ResumeToken) *stream {
	return &stream{src: src, logID: src.logID, pos: pos, token: tok, done: make(chan struct{})}
}

func (st *stream) Next(ctx context.Context, timeout time.Duration) (store.Event, bool, error) {
	if st.closed.Load() {
		return store.Event{}, false, errmodel.Closed("memstore: next on closed stream")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ev, ok, wait, err := st.src.after(st.pos, st.logID)
		if err != nil {
			return store.Event{}, false, err
		}
		if ok {
			st.pos++
			st.token = store.IssuedSeqToken(st.logID, st.pos, st.src.now())
			return ev, true, nil
		}
		select {
		case <-wait:
		case <-timer.C:
			return store.Event{}, false, nil
		case <-st.done:
			return store.Event{}, false, errmodel.Closed("memstore: stream closed while waiting")
		case <-ctx.Done():
			return store.Event{}, false, ctx.Err()
		}
	}
}

func (st *stream) Token() store.ResumeToken { return st.token }

func (st *stream) Close() error {
	st.closeOnce.Do(func() {
		st.closed.Store(true)
		close(st.done)
	})
	return nil
}

var _ store.Source = (*Store)(nil)

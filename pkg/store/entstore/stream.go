package entstore

import (
	"context"
	"sync"
	"time"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
)

type stream struct {
	st    *Store
	logID string
	pos   int64
	token store.ResumeToken

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newStream(st *Store, logID string, pos int64, tok store.ResumeToken) *stream {
	return &stream{
		st:    st,
		logID: logID,
		pos:   pos,
		token: tok,
		done:  make(chan struct{}),
	}
}

func (s *stream) Next(ctx context.Context, timeout time.Duration) (store.Event, bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return store.Event{}, false, errmodel.Closed("entstore: next on closed stream")
	}
	r, ok, err := s.st.next(ctx, s.logID, s.pos, time.Now().Add(timeout), s.done)
	if err != nil || !ok {
		return store.Event{}, false, err
	}
	s.pos = r.seq
	s.token = store.IssuedSeqToken(s.logID, r.seq, s.st.now())
	return r.ev, true, nil
}

func (s *stream) Token() store.ResumeToken { return s.token }

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
	"github.com/wilhg/changeverify/pkg/store/memstore"
)

// scriptedStream replays fixed events, then a terminal outcome.
type scriptedStream struct {
	events []store.Event
	end    error // nil means timeout
	pos    int
	token  store.ResumeToken
	calls  int
}

func (s *scriptedStream) Next(ctx context.Context, timeout time.Duration) (store.Event, bool, error) {
	s.calls++
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		s.token = ev.Token
		return ev, true, nil
	}
	if s.end != nil {
		return store.Event{}, false, s.end
	}
	return store.Event{}, false, nil
}

func (s *scriptedStream) Token() store.ResumeToken { return s.token }
func (s *scriptedStream) Close() error             { return nil }

func events(n int) []store.Event {
	out := make([]store.Event, n)
	for i := range out {
		out[i] = store.Event{ID: string(rune('a' + i)), Token: store.SeqToken("log", int64(i+1))}
	}
	return out
}

func TestCollectComplete(t *testing.T) {
	s := &scriptedStream{events: events(5), token: store.SeqToken("log", 0)}
	b, err := Collect(context.Background(), s, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StopComplete, b.Stop)
	assert.False(t, b.Partial())
	require.Len(t, b.Events, 3)
	assert.True(t, b.Token.Equal(store.SeqToken("log", 3)))
	assert.Equal(t, 3, s.calls, "no extra pulls past count")
}

func TestCollectPartialOnTimeout(t *testing.T) {
	s := &scriptedStream{events: events(2), token: store.SeqToken("log", 0)}
	b, err := Collect(context.Background(), s, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StopTimeout, b.Stop)
	assert.True(t, b.Partial())
	require.Len(t, b.Events, 2)
	assert.True(t, b.Token.Equal(store.SeqToken("log", 2)), "token matches the last delivered event")
}

func TestCollectNothingKeepsOpeningToken(t *testing.T) {
	start := store.SeqToken("log", 7)
	s := &scriptedStream{token: start}
	b, err := Collect(context.Background(), s, 1, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, b.Events)
	assert.True(t, b.Token.Equal(start))
}

func TestCollectStopsOnClosed(t *testing.T) {
	s := &scriptedStream{events: events(1), end: errmodel.Closed("gone"), token: store.SeqToken("log", 0)}
	b, err := Collect(context.Background(), s, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StopClosed, b.Stop)
	require.Error(t, b.Interrupt)
	assert.Len(t, b.Events, 1)
}

func TestCollectReturnsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	s := &scriptedStream{events: events(1), end: boom}
	b, err := Collect(context.Background(), s, 3, time.Millisecond)
	require.ErrorIs(t, err, boom)
	assert.Len(t, b.Events, 1)
}

func TestCollectZeroCount(t *testing.T) {
	s := &scriptedStream{events: events(1)}
	b, err := Collect(context.Background(), s, 0, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, b.Events)
	assert.Equal(t, 0, s.calls)
}

func TestCollectFromMemstore(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	st, err := src.Open(ctx, store.FromNow())
	require.NoError(t, err)
	defer st.Close()
	for i := 0; i < 2; i++ {
		_, err := src.Append(ctx, map[string]any{"test": i})
		require.NoError(t, err)
	}

	b, err := Collect(ctx, st, 3, 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, b.Events, 2)
	assert.True(t, b.Token.Equal(st.Token()), "token is the stream position after the last event")
	assert.Equal(t, StopTimeout, b.Stop)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/changeverify/pkg/errmodel"
)

func TestSeqTokenRoundTrip(t *testing.T) {
	tok := SeqToken("log-a", 42)
	pos, err := ParseSeqToken(tok, "log-a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos.Seq)
	assert.True(t, pos.Issued.IsZero())
	assert.True(t, tok.Equal(SeqToken("log-a", 42)))
	assert.False(t, tok.Equal(SeqToken("log-a", 43)))

	issued := time.Date(2024, 1, 1, 0, 0, 0, 123, time.UTC)
	pos, err = ParseSeqToken(IssuedSeqToken("log-a", 7, issued), "log-a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos.Seq)
	assert.True(t, issued.Equal(pos.Issued))
}

func TestParseSeqTokenRejectsForeignAndMalformed(t *testing.T) {
	_, err := ParseSeqToken(SeqToken("log-a", 1), "log-b")
	require.Error(t, err)
	assert.True(t, errmodel.IsResume(err))
	assert.Equal(t, errmodel.CodeInvalidToken, errmodel.From(err).Code)

	for _, raw := range []string{"", "no-separator", "log-a@", "log-a@x1", "log-a@-4", "log-a@3@", "log-a@3@soon"} {
		_, err := ParseSeqToken(TokenFromBytes([]byte(raw)), "log-a")
		require.Error(t, err, raw)
		assert.True(t, errmodel.IsResume(err), raw)
	}
}

func TestCheckRetained(t *testing.T) {
	at := func(seq int64) SeqPosition { return SeqPosition{Seq: seq} }
	require.NoError(t, CheckRetained(at(0), LogHead{}))
	require.NoError(t, CheckRetained(at(3), LogHead{LastSeq: 5}))
	require.NoError(t, CheckRetained(at(2), LogHead{LastSeq: 5, PrunedSeq: 2}), "only the event after the position must be retained")
	require.NoError(t, CheckRetained(at(5), LogHead{LastSeq: 5, PrunedSeq: 5}), "a position at the head survives full pruning")

	err := CheckRetained(at(1), LogHead{LastSeq: 5, PrunedSeq: 2})
	require.Error(t, err)
	assert.Equal(t, errmodel.CodeHistoryLost, errmodel.From(err).Code)

	err = CheckRetained(at(6), LogHead{LastSeq: 5})
	require.Error(t, err)
	assert.Equal(t, errmodel.CodeInvalidToken, errmodel.From(err).Code)
}

func TestCheckRetainedExpiresByIssueTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	head := LogHead{LastSeq: 1, Cutoff: now.Add(-5 * time.Second)}

	require.NoError(t, CheckRetained(SeqPosition{Seq: 1, Issued: now.Add(-5 * time.Second)}, head))
	require.NoError(t, CheckRetained(SeqPosition{Seq: 1}, head), "unstamped markers only expire by pruning")

	err := CheckRetained(SeqPosition{Seq: 1, Issued: now.Add(-6 * time.Second)}, head)
	require.Error(t, err)
	assert.Equal(t, errmodel.CodeHistoryLost, errmodel.From(err).Code)
}

func TestTokenString(t *testing.T) {
	assert.Equal(t, "log@7", SeqToken("log", 7).String())
	assert.Equal(t, "0001ff", TokenFromBytes([]byte{0x00, 0x01, 0xff}).String())
	assert.True(t, ResumeToken{}.IsZero())
}

func TestPosition(t *testing.T) {
	assert.True(t, FromNow().IsNow())
	p := After(SeqToken("log", 1))
	assert.False(t, p.IsNow())
	assert.Equal(t, "after:log@1", p.String())
}

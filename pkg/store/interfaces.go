package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/wilhg/changeverify/pkg/errmodel"
)

// Sequence-backed sources encode tokens as "<log id>@<seq>" or, for tokens
// handed out by a stream, "<log id>@<seq>@<issued unix nanos>". The log id
// changes on Reset so tokens taken before a reset are rejected.

// SeqPosition is a decoded sequence token.
type SeqPosition struct {
	Seq int64
	// Issued is when a stream handed the token out; zero for event markers.
	Issued time.Time
}

// LogHead describes a sequence log at the moment a resume is attempted.
type LogHead struct {
	LastSeq   int64
	PrunedSeq int64
	// Cutoff is the oldest issue time still resumable; zero disables age expiry.
	Cutoff time.Time
}

// SeqToken builds the marker of the position right after event seq of log logID.
func SeqToken(logID string, seq int64) ResumeToken {
	return ResumeToken{raw: logID + "@" + strconv.FormatInt(seq, 10)}
}

// IssuedSeqToken is SeqToken stamped with the time a stream handed it out.
func IssuedSeqToken(logID string, seq int64, issued time.Time) ResumeToken {
	return ResumeToken{raw: logID + "@" + strconv.FormatInt(seq, 10) + "@" + strconv.FormatInt(issued.UnixNano(), 10)}
}

// ParseSeqToken decodes a sequence token issued by log logID.
func ParseSeqToken(t ResumeToken, logID string) (SeqPosition, error) {
	malformed := func(cause error) (SeqPosition, error) {
		return SeqPosition{}, errmodel.Resume(errmodel.CodeInvalidToken, "malformed resume token", map[string]any{"token": t.String()}, cause)
	}
	id, rest, ok := strings.Cut(t.raw, "@")
	if !ok || id == "" {
		return malformed(nil)
	}
	if id != logID {
		return SeqPosition{}, errmodel.Resume(errmodel.CodeInvalidToken, "resume token belongs to another log", map[string]any{"token": t.String()}, nil)
	}
	num, stamp, stamped := strings.Cut(rest, "@")
	seq, err := strconv.ParseInt(num, 10, 64)
	if err != nil || seq < 0 {
		return malformed(err)
	}
	p := SeqPosition{Seq: seq}
	if stamped {
		nanos, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			return malformed(err)
		}
		p.Issued = time.Unix(0, nanos).UTC()
	}
	return p, nil
}

// CheckRetained validates that a stream may start right after p.
// A position is lost when the event following it was pruned, or when the
// token was issued before the retention cutoff.
func CheckRetained(p SeqPosition, h LogHead) error {
	if p.Seq > h.LastSeq {
		return errmodel.Resume(errmodel.CodeInvalidToken, "resume token is ahead of the log", map[string]any{"seq": p.Seq, "last_seq": h.LastSeq}, nil)
	}
	if p.Seq < h.PrunedSeq {
		return errmodel.Resume(errmodel.CodeHistoryLost, "resume position is no longer retained", map[string]any{"seq": p.Seq, "pruned_seq": h.PrunedSeq}, nil)
	}
	if !h.Cutoff.IsZero() && !p.Issued.IsZero() && p.Issued.Before(h.Cutoff) {
		return errmodel.Resume(errmodel.CodeHistoryLost, "resume token expired", map[string]any{"issued": p.Issued.Format(time.RFC3339Nano), "cutoff": h.Cutoff.Format(time.RFC3339Nano)}, nil)
	}
	return nil
}

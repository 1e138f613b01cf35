package verify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/eval"
	"github.com/wilhg/changeverify/pkg/store"
)

const (
	phasePre  = "pre-disconnect"
	phasePost = "post-disconnect"
)

// ResumeTokenTest checks that a token captured after consuming a batch lets a
// new stream continue with exactly the events appended afterwards.
func (r *Runner) ResumeTokenTest(ctx context.Context) TestResult {
	ctx, sc := r.begin(ctx, ScenarioResumeToken)
	n := r.iterations
	sc.span.SetAttributes(attribute.Int("iterations", n))

	first, err := r.src.Open(ctx, store.FromNow())
	if err != nil {
		return sc.fail(ctx, err)
	}
	defer first.Close()
	sc.advance(ctx, StateStreamOpened)
	sc.logger.InfoContext(ctx, "Initial resume token", "token", first.Token().String())

	before := make([]store.Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := r.appendDoc(ctx, map[string]any{"test": i})
		if err != nil {
			return sc.fail(ctx, err)
		}
		before = append(before, ev)
		sc.logger.DebugContext(ctx, "Inserted document", "index", i, "id", ev.ID)
	}

	batchA, err := r.collectFrom(ctx, first, n)
	sc.result.PreCount = len(batchA.Events)
	if err != nil {
		return sc.fail(ctx, err)
	}
	_ = first.Close()
	sc.advance(ctx, StateEventsCollected)
	tokenA := batchA.Token
	sc.logger.InfoContext(ctx, "Collected events", "count", len(batchA.Events), "stop", string(batchA.Stop))
	sc.logger.InfoContext(ctx, "Last resume token", "token", tokenA.String())
	if batchA.Partial() {
		sc.diagnose("initial stream delivered %d of %d events before %s", len(batchA.Events), n, batchA.Stop)
	}
	if err := eval.CheckExact(batchA.Events, before); err != nil {
		sc.diagnose("initial stream: %v", err)
	}

	resumed, err := r.src.Open(ctx, store.After(tokenA))
	if err != nil {
		sc.logger.ErrorContext(ctx, "Failed to resume change stream", "error", err)
		return sc.fail(ctx, err)
	}
	defer resumed.Close()
	sc.logger.InfoContext(ctx, "Successfully resumed change stream")

	after := make([]store.Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := r.appendDoc(ctx, map[string]any{"test": fmt.Sprintf("resumed_%d", i)})
		if err != nil {
			return sc.fail(ctx, err)
		}
		after = append(after, ev)
	}

	batchB, err := r.collectFrom(ctx, resumed, n)
	sc.result.PostCount = len(batchB.Events)
	if err != nil {
		return sc.fail(ctx, err)
	}
	_ = resumed.Close()
	sc.advance(ctx, StateResumed)
	sc.logger.InfoContext(ctx, "Collected resumed events", "count", len(batchB.Events), "final_token", batchB.Token.String())

	var failures []error
	if len(batchB.Events) != n {
		failures = append(failures, errmodel.Verification(eval.CodeCountMismatch, fmt.Sprintf("resumed stream delivered %d events, want %d", len(batchB.Events), n), nil))
	}
	if err := eval.CheckNoDuplicates(batchA.Events, batchB.Events); err != nil {
		failures = append(failures, err)
	}
	if err := eval.CheckExact(batchB.Events, after); err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		for _, f := range failures[1:] {
			sc.diagnose("%v", f)
		}
		return sc.fail(ctx, failures[0])
	}
	return sc.verified(ctx)
}

// DurabilityTest checks that a stream closed for the disconnect duration can be
// resumed from its last token and receives the next event.
func (r *Runner) DurabilityTest(ctx context.Context) TestResult {
	ctx, sc := r.begin(ctx, ScenarioDurability)
	sc.span.SetAttributes(attribute.String("disconnect", r.disconnect.String()))

	s, err := r.src.Open(ctx, store.FromNow())
	if err != nil {
		return sc.fail(ctx, err)
	}
	defer s.Close()
	sc.advance(ctx, StateStreamOpened)

	if _, err := r.appendDoc(ctx, map[string]any{"phase": phasePre}); err != nil {
		return sc.fail(ctx, err)
	}
	pre, err := r.collectFrom(ctx, s, 1)
	sc.result.PreCount = len(pre.Events)
	if err != nil {
		return sc.fail(ctx, err)
	}
	sc.advance(ctx, StateEventsCollected)
	tokenC := pre.Token
	if pre.Partial() {
		sc.diagnose("pre-disconnect event not delivered before %s", pre.Stop)
	}

	sc.logger.InfoContext(ctx, "Simulating disconnect", "duration", r.disconnect.String())
	if err := r.injector.SimulateDisconnect(s, r.disconnect); err != nil {
		sc.diagnose("close during disconnect: %v", err)
	}
	sc.advance(ctx, StateDisconnected)

	resumed, err := r.src.Open(ctx, store.After(tokenC))
	if err != nil {
		sc.logger.ErrorContext(ctx, "Failed to resume after disconnect", "error", err)
		return sc.fail(ctx, err)
	}
	defer resumed.Close()

	want, err := r.appendDoc(ctx, map[string]any{"phase": phasePost})
	if err != nil {
		return sc.fail(ctx, err)
	}
	post, err := r.collectFrom(ctx, resumed, 1)
	sc.result.PostCount = len(post.Events)
	if err != nil {
		return sc.fail(ctx, err)
	}
	_ = resumed.Close()
	sc.advance(ctx, StateResumed)

	if len(post.Events) == 0 {
		return sc.fail(ctx, errmodel.Verification(eval.CodeCountMismatch, "no event delivered after disconnect", nil))
	}
	got := post.Events[0]
	if got.ID != want.ID || got.Payload["phase"] != phasePost {
		return sc.fail(ctx, errmodel.Verification(eval.CodeUnexpected, "first event after disconnect is not the post-disconnect document", map[string]any{"want": want.ID, "got": got.ID, "phase": got.Payload["phase"]}))
	}
	return sc.verified(ctx)
}

package verify

import (
	"log/slog"

	"github.com/wilhg/changeverify/pkg/errmodel"
)

// State is a position in a scenario's lifecycle.
//
//	idle -> stream_opened -> events_collected -> [disconnected] -> resumed -> verified
//
// failed is reachable from every state.
type State string

const (
	StateIdle            State = "idle"
	StateStreamOpened    State = "stream_opened"
	StateEventsCollected State = "events_collected"
	StateDisconnected    State = "disconnected"
	StateResumed         State = "resumed"
	StateVerified        State = "verified"
	StateFailed          State = "failed"
)

// Scenario names.
const (
	ScenarioResumeToken = "resume_token_test"
	ScenarioDurability  = "durability_test"
)

// TestResult is produced once per scenario and never modified afterwards.
type TestResult struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	PreCount  int    `json:"pre_count"`
	PostCount int    `json:"post_count"`
	Success   bool   `json:"success"`
	// Error is set whenever Success is false.
	Error       *errmodel.Error `json:"error,omitempty"`
	Diagnostics []string        `json:"diagnostics,omitempty"`
}

// Results is the aggregate report of RunAll.
type Results struct {
	ResumeTokenTest TestResult `json:"resume_token_test"`
	DurabilityTest  TestResult `json:"durability_test"`
}

// Passed reports whether every scenario succeeded.
func (r Results) Passed() bool {
	return r.ResumeTokenTest.Success && r.DurabilityTest.Success
}

// LogValue renders the result with the original report keys of each scenario.
func (r TestResult) LogValue() slog.Value {
	pre, post := "pre_count", "post_count"
	switch r.Name {
	case ScenarioResumeToken:
		pre, post = "initial_events", "resumed_events"
	case ScenarioDurability:
		pre, post = "pre_disconnect_events", "post_disconnect_events"
	}
	attrs := []slog.Attr{
		slog.String("state", string(r.State)),
		slog.Int(pre, r.PreCount),
		slog.Int(post, r.PostCount),
		slog.Bool("success", r.Success),
	}
	if r.Error != nil {
		attrs = append(attrs, slog.String("error", r.Error.Error()))
	}
	if len(r.Diagnostics) > 0 {
		attrs = append(attrs, slog.Any("diagnostics", r.Diagnostics))
	}
	return slog.GroupValue(attrs...)
}

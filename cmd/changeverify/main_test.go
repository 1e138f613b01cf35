package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/changeverify/pkg/verify"
)

func TestRunMemoryTargetPrintsReport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), []string{"-target=memory:", "-iterations=3", "-disconnect=0", "-event-timeout=1s", "-json"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var res verify.Results
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.True(t, res.Passed())
	assert.Equal(t, 3, res.ResumeTokenTest.PreCount)
	assert.Equal(t, 3, res.ResumeTokenTest.PostCount)
	assert.Equal(t, 1, res.DurabilityTest.PostCount)

	logs := stderr.String()
	assert.Contains(t, logs, "Test collection setup complete")
	assert.Contains(t, logs, `"initial_events":3`)
	assert.Contains(t, logs, `"post_disconnect_events":1`)
}

func TestRunUnreachableSourceExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), []string{"-target=ftp://nowhere"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Failed to connect to event source")
	assert.Empty(t, stdout.String())
}

func TestRunBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(t.Context(), []string{"-iterations=0"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "bad_iterations")
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(t.Context(), []string{"-version"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), "changeverify dev"))
}

func TestRunTextLogs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), []string{"-target=memory:", "-iterations=1", "-disconnect=0", "-log-format=text"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.Contains(t, stderr.String(), "resume_token_test.success=true")
	assert.Empty(t, stdout.String())
}
